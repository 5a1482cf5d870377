package utils

import (
	"github.com/mileusna/useragent"

	"github.com/oberliner3/jhnyc-sub000/models"
)

// ParseDevice classifies a user agent string into coarse device, browser and
// OS names. Unknown values come back as "unknown".
func ParseDevice(uaString string) models.DeviceInfo {
	ua := useragent.Parse(uaString)

	info := models.DeviceInfo{
		Browser:   ua.Name,
		OS:        ua.OS,
		UserAgent: uaString,
	}
	if info.Browser == "" {
		info.Browser = "unknown"
	}
	if info.OS == "" {
		info.OS = "unknown"
	}

	switch {
	case ua.Bot:
		info.DeviceType = "bot"
	case ua.Tablet:
		info.DeviceType = "tablet"
	case ua.Mobile:
		info.DeviceType = "mobile"
	case ua.Desktop:
		info.DeviceType = "desktop"
	default:
		info.DeviceType = "unknown"
	}
	return info
}
