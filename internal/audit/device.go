package audit

import (
	"context"

	"github.com/mssola/useragent"

	"psymetric/internal/requestcontext"
)

const unknown = "Unknown"

// DeviceFromContext builds Device info from the request metadata captured by
// the transport middleware. Parsing is best-effort: malformed or missing
// headers degrade to Unknown values rather than failing the audit write.
func DeviceFromContext(ctx context.Context) Device {
	device := ParseDevice(requestcontext.UserAgent(ctx))
	if lang := requestcontext.Language(ctx); lang != "" {
		device.Language = lang
	}
	if tz := requestcontext.Timezone(ctx); tz != "" {
		device.Timezone = tz
	}
	return device
}

// ParseDevice extracts platform and browser from a User-Agent header.
func ParseDevice(rawUA string) Device {
	device := Device{
		Platform: unknown,
		Browser:  unknown,
		Language: unknown,
		Timezone: unknown,
	}
	if rawUA == "" {
		return device
	}

	ua := useragent.New(rawUA)
	if os := ua.OS(); os != "" {
		device.Platform = os
	} else if platform := ua.Platform(); platform != "" {
		device.Platform = platform
	}
	if name, _ := ua.Browser(); name != "" {
		device.Browser = name
	}
	return device
}
