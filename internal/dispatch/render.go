package dispatch

import (
	"net/mail"
	"strings"

	"MemberSend/internal/models"
)

const (
	DefaultName = "Member"
	DefaultTier = "Basic"
)

// MergeTags replaces {{name}}, {{email}} and {{tier}} literally.
func MergeTags(body string, sub models.Subscriber) string {
	name := sub.Name
	if strings.TrimSpace(name) == "" {
		name = DefaultName
	}
	tier := sub.Tier
	if strings.TrimSpace(tier) == "" {
		tier = DefaultTier
	}

	return strings.NewReplacer(
		"{{name}}", name,
		"{{email}}", sub.Email,
		"{{tier}}", tier,
	).Replace(body)
}

// SenderAddress uses the tenant's custom domain only once it is verified.
// Otherwise the tenant's unique code keeps platform addresses distinct.
func SenderAddress(t models.Tenant, opts Options) string {
	var address string
	if t.CustomDomain != "" && t.CustomDomainVerified {
		address = opts.CustomLocalPart + "@" + t.CustomDomain
	} else {
		address = t.UniqueCode + "@" + opts.PlatformDomain
	}

	return (&mail.Address{Name: t.FromName, Address: address}).String()
}
