package utils

import "strings"

// UserJIDSuffix is the WhatsApp JID domain for individual users.
const UserJIDSuffix = "@s.whatsapp.net"

// PhoneToJID converts a bare phone number into a WhatsApp user JID.
// Values that already carry a JID domain are returned unchanged.
func PhoneToJID(phone string) string {
	p := strings.TrimSpace(phone)
	p = strings.TrimPrefix(p, "+")
	if strings.Contains(p, "@") {
		return p
	}
	return p + UserJIDSuffix
}

// JIDToPhone extracts the bare phone number from a user JID.
func JIDToPhone(jid string) string {
	if idx := strings.Index(jid, "@"); idx != -1 {
		return jid[:idx]
	}
	return jid
}

// NormalizePhone strips everything except digits (plus signs, spaces,
// dashes) so numbers compare and key consistently.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
