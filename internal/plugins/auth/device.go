package auth

import (
	"crypto/sha256"
	"encoding/base32"
	"strconv"
	"strings"
	"time"
)

// devicePrefix tags every fingerprint so stored ids are recognizable.
const devicePrefix = "device_"

// deviceIDLength is the number of fingerprint characters after the prefix.
const deviceIDLength = 16

// Fingerprint derives the stable device id from client-reported
// attributes: user-agent, language, screen dimensions, timezone offset,
// and an entropy blob (the client sends a rendering-derived value).
// The same attributes always produce the same id; materially different
// clients diverge.
//
// This is a coarse device-binding key, nothing more. It hashes
// client-controlled values and must never gate access by itself.
func Fingerprint(a DeviceAttrs) string {
	seed := strings.Join([]string{
		a.UserAgent,
		a.Language,
		a.Screen,
		strconv.Itoa(a.TimezoneOffset),
		a.Entropy,
	}, "|")

	sum := sha256.Sum256([]byte(seed))
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(sum[:])

	return devicePrefix + strings.ToLower(enc[:deviceIDLength])
}

// DescribeDevice builds a full Device record from client attributes:
// fingerprint id plus the human-readable classification shown in the
// account's device list.
func DescribeDevice(a DeviceAttrs, now time.Time) Device {
	return Device{
		ID:          Fingerprint(a),
		Type:        classifyDeviceType(a.UserAgent),
		Browser:     classifyBrowser(a.UserAgent),
		UserAgent:   a.UserAgent,
		Platform:    a.Platform,
		Language:    a.Language,
		Screen:      a.Screen,
		Timezone:    a.Timezone,
		AddedAt:     now,
		LastLoginAt: now,
	}
}

// classifyDeviceType buckets a user-agent into Desktop/Mobile/Tablet.
// Mobile wins over tablet when both markers appear, matching how the
// site has always classified Android tablets.
func classifyDeviceType(userAgent string) string {
	ua := strings.ToLower(userAgent)
	if strings.Contains(ua, "mobi") || strings.Contains(ua, "android") {
		return DeviceMobile
	}
	if strings.Contains(ua, "tablet") || strings.Contains(ua, "ipad") {
		return DeviceTablet
	}
	return DeviceDesktop
}

// classifyBrowser picks a display label from the user-agent. Order
// matters: Chrome is checked first, so Chromium-family agents (including
// Edge) label as Chrome unless they drop the Chrome token.
func classifyBrowser(userAgent string) string {
	switch {
	case strings.Contains(userAgent, "Chrome"):
		return "Chrome"
	case strings.Contains(userAgent, "Firefox"):
		return "Firefox"
	case strings.Contains(userAgent, "Safari"):
		return "Safari"
	case strings.Contains(userAgent, "Edge"):
		return "Edge"
	default:
		return "Unknown"
	}
}
