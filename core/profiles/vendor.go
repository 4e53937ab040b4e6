package profiles

import (
	"strings"

	ua "github.com/mileusna/useragent"
)

// Vendor classifies renderer families that need protocol-level shaping
// (SSDP response timing, DLNA flags, upstream stream hints).
type Vendor int

const (
	VendorGeneric Vendor = iota
	VendorSamsung
	VendorLG
	VendorXbox
	VendorVLC
)

func (v Vendor) String() string {
	switch v {
	case VendorSamsung:
		return "samsung"
	case VendorLG:
		return "lg"
	case VendorXbox:
		return "xbox"
	case VendorVLC:
		return "vlc"
	default:
		return "generic"
	}
}

// DetectVendor maps a user-agent to a renderer vendor. Substring checks come
// first because TV firmwares rarely send well-formed agent strings.
func DetectVendor(userAgent string) Vendor {
	lower := strings.ToLower(userAgent)
	switch {
	case strings.Contains(lower, "samsung") || strings.Contains(lower, "tizen") ||
		strings.Contains(lower, "sec_hhp"):
		return VendorSamsung
	case strings.Contains(lower, "lge") || strings.Contains(lower, "webos") ||
		strings.Contains(lower, "lg electronics"):
		return VendorLG
	case strings.Contains(lower, "xbox"):
		return VendorXbox
	case strings.Contains(lower, "vlc") || strings.Contains(lower, "libvlc"):
		return VendorVLC
	}
	parsed := ua.Parse(userAgent)
	switch {
	case parsed.OS == ua.Windows && strings.Contains(lower, "nsplayer"):
		return VendorXbox
	default:
		return VendorGeneric
	}
}
