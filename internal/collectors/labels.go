package collectors

import (
	"strings"

	"golang.org/x/text/cases"

	"livewatch/internal/linkage"
	"livewatch/internal/models"
	"livewatch/internal/verification"
)

var (
	backupKeywords = []string{"backup", "secondary", "백업"}
	mainKeywords   = []string{"main", "primary", "메인"}
)

// typeFromName classifies a display name by keyword. Backup keywords are
// checked first so names such as "main-backup" count as backup.
func typeFromName(name string) verification.ActiveType {
	folded := cases.Fold().String(name)
	for _, keyword := range backupKeywords {
		if strings.Contains(folded, keyword) {
			return verification.ActiveBackup
		}
	}
	for _, keyword := range mainKeywords {
		if strings.Contains(folded, keyword) {
			return verification.ActiveMain
		}
	}
	return verification.ActiveUnknown
}

// typeFromRegion labels an address by its "-1." / "-2." region token.
func typeFromRegion(address string) verification.ActiveType {
	switch linkage.RegionIndex(address) {
	case 1:
		return verification.ActiveMain
	case 2:
		return verification.ActiveBackup
	default:
		return verification.ActiveUnknown
	}
}

// inputRole returns the role of inputID: failover settings decide when
// present, otherwise position in the attachment list.
func inputRole(channel models.Channel, inputID string) (verification.ActiveType, bool) {
	if primary, secondary, ok := channel.FailoverPair(); ok {
		switch inputID {
		case primary.InputID:
			return verification.ActiveMain, true
		case secondary.InputID:
			return verification.ActiveBackup, true
		}
	}
	for i, input := range channel.Inputs {
		if input.InputID == inputID {
			return verification.TypeForIndex(i), true
		}
	}
	return verification.ActiveUnknown, false
}

// inputForRole returns the attachment playing role t.
func inputForRole(channel models.Channel, t verification.ActiveType) (models.InputAttachment, bool) {
	for _, input := range channel.Inputs {
		if role, ok := inputRole(channel, input.InputID); ok && role == t {
			return input, true
		}
	}
	return models.InputAttachment{}, false
}

func firstAddress(input models.InputAttachment) string {
	if len(input.SourceAddresses) == 0 {
		return ""
	}
	return input.SourceAddresses[0]
}
