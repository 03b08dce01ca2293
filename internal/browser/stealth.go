package browser

import (
	"fmt"
	"strings"
)

// automationFlags hide the automation switches Chrome exposes by default.
var automationFlags = map[string]string{
	"disable-blink-features":         "AutomationControlled",
	"disable-infobars":               "",
	"disable-default-apps":           "",
	"no-default-browser-check":       "",
	"disable-renderer-backgrounding": "",
}

// stealthScript runs on every new document, before page scripts.
const stealthScript = `
(() => {
    Object.defineProperty(navigator, 'webdriver', { get: () => undefined, configurable: true });

    Object.defineProperty(navigator, 'languages', { get: () => %s, configurable: true });

    const plugins = [
        { name: 'Chrome PDF Plugin', filename: 'internal-pdf-viewer', description: 'Portable Document Format' },
        { name: 'Chrome PDF Viewer', filename: 'mhjfbmdgcfjbbpaeojofohoefgiehjai', description: '' },
        { name: 'Native Client', filename: 'internal-nacl-plugin', description: '' }
    ];
    Object.defineProperty(navigator, 'plugins', { get: () => plugins, configurable: true });

    if (!window.chrome) {
        window.chrome = { runtime: {}, app: {}, loadTimes: function() {}, csi: function() {} };
    }

    const query = window.navigator.permissions && window.navigator.permissions.query;
    if (query) {
        window.navigator.permissions.query = (parameters) => (
            parameters && parameters.name === 'notifications'
                ? Promise.resolve({ state: Notification.permission })
                : query.call(window.navigator.permissions, parameters)
        );
    }
})();
`

// StealthScript renders the init script for a fingerprint.
func StealthScript(fp Fingerprint) string {
	langs := []string{fp.Locale}
	if lang, _, ok := strings.Cut(fp.Locale, "-"); ok {
		langs = append(langs, lang)
	}
	quoted := make([]string, len(langs))
	for i, l := range langs {
		quoted[i] = fmt.Sprintf("%q", l)
	}
	return fmt.Sprintf(stealthScript, "["+strings.Join(quoted, ", ")+"]")
}
