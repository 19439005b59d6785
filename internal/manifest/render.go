package manifest

import (
	"crypto/sha256"
	"encoding/xml"
	"fmt"
	"strings"
)

// officeApp is the serialized shape of an Office add-in manifest document
type officeApp struct {
	XMLName           xml.Name     `xml:"OfficeApp"`
	XMLNS             string       `xml:"xmlns,attr"`
	XMLNSXsi          string       `xml:"xmlns:xsi,attr"`
	XsiType           string       `xml:"xsi:type,attr"`
	ID                string       `xml:"Id"`
	Version           string       `xml:"Version"`
	ProviderName      string       `xml:"ProviderName"`
	DefaultLocale     string       `xml:"DefaultLocale"`
	DisplayName       valueAttr    `xml:"DisplayName"`
	Description       valueAttr    `xml:"Description"`
	IconURL           valueAttr    `xml:"IconUrl"`
	HighResolutionURL valueAttr    `xml:"HighResolutionIconUrl"`
	SupportURL        valueAttr    `xml:"SupportUrl"`
	AppDomains        appDomains   `xml:"AppDomains"`
	Hosts             hosts        `xml:"Hosts"`
	Requirements      requirements `xml:"Requirements"`
	FormSettings      formSettings `xml:"FormSettings"`
	Permissions       string       `xml:"Permissions"`
}

type valueAttr struct {
	DefaultValue string `xml:"DefaultValue,attr"`
}

type appDomains struct {
	Domains []string `xml:"AppDomain"`
}

type hosts struct {
	Hosts []hostName `xml:"Host"`
}

type hostName struct {
	Name string `xml:"Name,attr"`
}

type requirements struct {
	Sets requirementSets `xml:"Sets"`
}

type requirementSets struct {
	DefaultMinVersion string           `xml:"DefaultMinVersion,attr"`
	Sets              []requirementSet `xml:"Set"`
}

type requirementSet struct {
	Name       string `xml:"Name,attr"`
	MinVersion string `xml:"MinVersion,attr"`
}

type formSettings struct {
	Forms []form `xml:"Form"`
}

type form struct {
	XsiType     string      `xml:"xsi:type,attr"`
	DesktopForm desktopForm `xml:"DesktopSettings"`
}

type desktopForm struct {
	SourceLocation  valueAttr `xml:"SourceLocation"`
	RequestedHeight int       `xml:"RequestedHeight"`
}

// Render produces the manifest document for a template, deterministically.
// Every generated URL carries the cache-bust token so client-side caches
// roll over in lockstep with server-side invalidation.
func Render(tpl Template, env Environment, variant Variant, bust string) ([]byte, error) {
	doc := officeApp{
		XMLNS:         "http://schemas.microsoft.com/office/appforoffice/1.1",
		XMLNSXsi:      "http://www.w3.org/2001/XMLSchema-instance",
		XsiType:       "MailApp",
		ID:            stableID(env, variant, tpl.Version),
		Version:       tpl.Version,
		ProviderName:  tpl.ProviderName,
		DefaultLocale: "en-US",
		DisplayName:   valueAttr{tpl.DisplayName},
		Description:   valueAttr{tpl.Description},
		IconURL:       valueAttr{withBust(tpl.IconURL, bust)},
		HighResolutionURL: valueAttr{
			withBust(tpl.HighResIconURL, bust),
		},
		SupportURL: valueAttr{tpl.SupportURL},
		AppDomains: appDomains{Domains: tpl.AppDomains},
		Hosts:      hosts{Hosts: []hostName{{Name: "Mailbox"}}},
		Requirements: requirements{
			Sets: requirementSets{
				DefaultMinVersion: tpl.Requirements,
				Sets:              []requirementSet{{Name: "Mailbox", MinVersion: tpl.Requirements}},
			},
		},
		FormSettings: formSettings{
			Forms: []form{{
				XsiType: "ItemRead",
				DesktopForm: desktopForm{
					SourceLocation:  valueAttr{withBust(tpl.BaseURL+"/taskpane.html", bust)},
					RequestedHeight: 450,
				},
			}},
		},
		Permissions: tpl.Permissions,
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to render manifest for %s/%s: %w", env, variant, err)
	}
	return append([]byte(xml.Header), body...), nil
}

// withBust appends the cache-bust token as a version query parameter
func withBust(url, bust string) string {
	if bust == "" || url == "" {
		return url
	}
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return url + sep + "v=" + bust
}

// stableID derives a deterministic UUID-shaped identifier for the pair so
// repeated renders of the same template agree byte-for-byte.
func stableID(env Environment, variant Variant, version string) string {
	sum := sha256.Sum256([]byte(string(env) + "/" + string(variant) + "/" + version))
	hexed := fmt.Sprintf("%x", sum[:16])
	return fmt.Sprintf("%s-%s-%s-%s-%s", hexed[0:8], hexed[8:12], hexed[12:16], hexed[16:20], hexed[20:32])
}
