package antidetect

import "github.com/go-rod/stealth"

const webdriverPatch = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
`

// MaskScript is injected into every new document to hide automation
// fingerprints (navigator.webdriver, headless plugins, WebGL vendor).
func MaskScript() string {
	return stealth.JS + webdriverPatch
}

// LaunchArgs are Chromium flags that drop the most obvious automation tells.
var LaunchArgs = []string{
	"--disable-blink-features=AutomationControlled",
	"--disable-features=IsolateOrigins,site-per-process",
	"--disable-infobars",
	"--no-first-run",
	"--no-default-browser-check",
	"--disable-dev-shm-usage",
	"--no-sandbox",
}
