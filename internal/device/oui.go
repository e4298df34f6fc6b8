// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package device

// iotVendors maps MAC OUIs of known IoT manufacturers to a product line.
// A hit identifies the device with high confidence.
var iotVendors = map[[3]byte]string{
	// Single-board computers
	{0xB8, 0x27, 0xEB}: "Raspberry Pi Foundation",
	{0xDC, 0xA6, 0x32}: "Raspberry Pi Foundation",
	{0xE4, 0x5F, 0x01}: "Raspberry Pi Foundation",
	{0x28, 0xCD, 0xC1}: "Raspberry Pi Foundation",

	// Amazon
	{0x44, 0x65, 0x0D}: "Amazon Echo",
	{0x50, 0xDC, 0xE7}: "Amazon Echo",
	{0x74, 0x75, 0x48}: "Amazon Echo/Fire TV",
	{0xFC, 0x65, 0xDE}: "Amazon Fire TV",
	{0x00, 0xFC, 0x8B}: "Amazon Echo",

	// Google
	{0x54, 0x60, 0x09}: "Google Chromecast",
	{0xE0, 0xB9, 0x4D}: "Google Nest",
	{0x6C, 0xAD, 0xF8}: "Google Nest",
	{0xF4, 0xF5, 0xD8}: "Google Home",
	{0x48, 0xD6, 0xD5}: "Google Nest Hub",

	// Cameras
	{0x00, 0x62, 0x6E}: "Wyze Cam",
	{0xD0, 0x73, 0xD5}: "Ring Camera",
	{0x00, 0x12, 0xFB}: "Nest Cam",
	{0xB4, 0x5D, 0x50}: "Arlo Camera",

	// Lighting
	{0x00, 0x17, 0x88}: "Philips Hue",
	{0xEC, 0xB5, 0xFA}: "Philips Hue",

	// Thermostats
	{0x18, 0xB4, 0x30}: "Nest Thermostat",
	{0x64, 0x16, 0x66}: "Nest Thermostat",

	// Smart plugs
	{0x50, 0xC7, 0xBF}: "TP-Link Smart Plug",
	{0x1C, 0x3B, 0xF3}: "TP-Link Smart Plug",
	{0xB4, 0xE6, 0x2D}: "Wemo Switch",

	// Development boards
	{0x98, 0xD3, 0x31}: "Espressif (ESP8266)",
	{0x98, 0xF4, 0xAB}: "Espressif (ESP32)",
	{0x24, 0x0A, 0xC4}: "Espressif (ESP32)",
	{0xA4, 0xCF, 0x12}: "Espressif (ESP8266)",
	{0x5C, 0xCF, 0x7F}: "Espressif (ESP32)",
	{0x00, 0x1E, 0xC0}: "Arduino",
	{0x90, 0xA2, 0xDA}: "Arduino",

	// Other
	{0x00, 0x17, 0xD5}: "Samsung SmartThings",
	{0x28, 0x6D, 0x97}: "Sonos Speaker",
	{0xB8, 0xE9, 0x37}: "Sonos Speaker",
}

// iotPortIndicators maps IoT-specific protocols to their well-known ports.
// Traffic on any of them marks the device as IoT with medium confidence.
var iotPortIndicators = map[string][]uint16{
	"mqtt":    {1883, 8883},
	"coap":    {5683, 5684},
	"upnp":    {1900},
	"mdns":    {5353},
	"homekit": {51827},
	"zigbee":  {17754, 17755},
	"zwave":   {41120},
}
