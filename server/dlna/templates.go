package dlna

import (
	"fmt"
	"sync"
)

// Named XML templates with positional parameters. The map is populated once
// and read-only afterwards.
var (
	templatesOnce sync.Once
	templates     map[string]string
)

func renderTemplate(name string, args ...interface{}) string {
	templatesOnce.Do(loadTemplates)
	t, ok := templates[name]
	if !ok {
		return ""
	}
	if len(args) == 0 {
		return t
	}
	return fmt.Sprintf(t, args...)
}

func loadTemplates() {
	templates = map[string]string{
		"soap-envelope": `<?xml version="1.0" encoding="utf-8"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">
  <s:Body>
    %s
  </s:Body>
</s:Envelope>`,

		"soap-fault": `<?xml version="1.0" encoding="utf-8"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">
  <s:Body>
    <s:Fault>
      <faultcode>%s</faultcode>
      <faultstring>UPnPError</faultstring>
      <detail>
        <UPnPError xmlns="urn:schemas-upnp-org:control-1-0">
          <errorCode>%d</errorCode>
          <errorDescription>%s</errorDescription>
        </UPnPError>
      </detail>
    </s:Fault>
  </s:Body>
</s:Envelope>`,

		"srt-fallback": `1
00:00:00,000 --> 00:00:05,000
%s
`,

		"contentdirectory-scpd":  contentDirectorySCPD,
		"connectionmanager-scpd": connectionManagerSCPD,
	}
}
