package conversation

import (
	"github.com/enescakir/emoji"

	"github.com/tOgg1/gmic/internal/models"
)

// Default avatars.
var (
	DefaultAvatar = emoji.BustInSilhouette.String()
	BotAvatar     = emoji.Robot.String()
)

// SelfName labels the self account.
const SelfName = "Me"

// Profile is the display identity of an address.
type Profile = models.Profile

// AddressBook maps canonical addresses to known profiles. The application
// address, if set, resolves to a bot profile.
type AddressBook struct {
	Entries        map[string]Profile
	AppAddress     string
	AppDisplayName string
}

// NewAddressBook canonicalizes entries.
func NewAddressBook(entries map[string]Profile, appAddress, appName string) AddressBook {
	book := AddressBook{
		Entries:        make(map[string]Profile, len(entries)),
		AppAddress:     models.NormalizeAddress(appAddress),
		AppDisplayName: appName,
	}
	for address, profile := range entries {
		if normalized := models.NormalizeAddress(address); normalized != "" {
			book.Entries[normalized] = profile
		}
	}
	return book
}

// Contact resolves how address should be shown. Hints carried by msg win,
// then the address book, then the application profile, then SelfName.
// Unknown addresses get an empty name and the default avatar.
func Contact(address string, msg *models.Message, self string, book AddressBook) Profile {
	address = models.NormalizeAddress(address)

	if msg != nil {
		if address == models.NormalizeAddress(msg.Sender) && msg.SenderName != "" {
			return Profile{Name: msg.SenderName, Avatar: orDefault(msg.SenderAvatar)}
		}
		if address == models.NormalizeAddress(msg.Recipient) && msg.RecipientName != "" {
			return Profile{Name: msg.RecipientName, Avatar: orDefault(msg.RecipientAvatar)}
		}
	}

	if profile, ok := book.Entries[address]; ok {
		profile.Avatar = orDefault(profile.Avatar)
		return profile
	}
	if book.AppAddress != "" && address == book.AppAddress {
		name := book.AppDisplayName
		if name == "" {
			name = "GMIC"
		}
		return Profile{Name: name, Avatar: BotAvatar}
	}
	if address != "" && address == models.NormalizeAddress(self) {
		return Profile{Name: SelfName, Avatar: DefaultAvatar}
	}
	return Profile{Avatar: DefaultAvatar}
}

func orDefault(avatar string) string {
	if avatar == "" {
		return DefaultAvatar
	}
	return avatar
}
