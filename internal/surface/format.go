// Package surface renders events for people: phone number extraction,
// event labels and a console surface built on them.
package surface

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/binacloud/relay/pkg/types"
)

var (
	numeroPattern = regexp.MustCompile(`"numero":\s*"([^"]+)"`)
	nonDigits     = regexp.MustCompile(`[^0-9]`)
)

const maxPhoneDigits = 11

var eventLabels = map[types.EventType]string{
	types.EventCallReceived: "Chamada recebida",
	types.EventCallMissed:   "Chamada perdida",
	types.EventCallEnded:    "Chamada finalizada",
	types.EventCallAnswered: "Chamada atendida",
	types.EventCall:         "Chamada",
}

// EventTypeLabel returns the display label for t. Unknown types are shown
// verbatim; an empty type is shown as "Evento".
func EventTypeLabel(t types.EventType) string {
	if label, ok := eventLabels[t]; ok {
		return label
	}
	if t == "" {
		return "Evento"
	}
	return string(t)
}

// ExtractPhoneNumber pulls the caller's number out of additionalData.
//
// The "numero" field of a JSON payload wins; otherwise every digit in the
// text is used. Leading zeros are dropped and the result is cut to 11 digits
// (area code plus number). "N/A" and empty input yield "".
func ExtractPhoneNumber(additionalData string) string {
	if additionalData == "" {
		return ""
	}
	var phone string
	if m := numeroPattern.FindStringSubmatch(additionalData); m != nil {
		phone = m[1]
	} else {
		phone = nonDigits.ReplaceAllString(additionalData, "")
	}
	if phone == "" || phone == "N/A" {
		return ""
	}
	phone = strings.TrimLeft(phone, "0")
	if len(phone) > maxPhoneDigits {
		phone = phone[:maxPhoneDigits]
	}
	return phone
}

// FormatPhoneNumber renders a Brazilian number as "(DD) NNNNN-NNNN".
// Shorter inputs degrade gracefully.
func FormatPhoneNumber(num string) string {
	num = nonDigits.ReplaceAllString(num, "")
	switch {
	case len(num) == 11:
		return fmt.Sprintf("(%s) %s-%s", num[:2], num[2:7], num[7:])
	case len(num) == 10:
		return fmt.Sprintf("(%s) %s-%s", num[:2], num[2:6], num[6:])
	case len(num) > 2:
		return fmt.Sprintf("(%s) %s", num[:2], num[2:])
	default:
		return num
	}
}

// PhoneNumber returns the event's number: PhoneNumber when set, otherwise
// whatever ExtractPhoneNumber finds in AdditionalData.
func PhoneNumber(e types.Event) string {
	if e.PhoneNumber != "" {
		return e.PhoneNumber
	}
	return ExtractPhoneNumber(e.AdditionalData)
}

// Format renders one event as a single line. The zero value gives the
// compact form.
type Format struct {
	// Detailed adds the device, timestamp and description.
	Detailed bool
	// PortalBase, when set, links events without a URL to
	// PortalBase?primary_phone=<number>.
	PortalBase string
}

// Line renders e.
func (f Format) Line(e types.Event) string {
	var b strings.Builder
	b.WriteString(EventTypeLabel(e.EventType))

	phone := PhoneNumber(e)
	if phone != "" {
		b.WriteString(" ")
		b.WriteString(FormatPhoneNumber(phone))
	} else {
		b.WriteString(" N/A")
	}

	if f.Detailed {
		device := e.DeviceID
		if device == "" {
			device = "N/A"
		}
		fmt.Fprintf(&b, " device=%s", device)
		if ts := e.TimestampString(); ts != "" {
			fmt.Fprintf(&b, " at=%s", ts)
		}
		if e.Description != "" {
			fmt.Fprintf(&b, " %q", e.Description)
		}
	}

	if link := f.Link(e); link != "" {
		b.WriteString(" ")
		b.WriteString(link)
	}
	return b.String()
}

// Link returns the event's deep link, or one derived from PortalBase.
func (f Format) Link(e types.Event) string {
	if e.URL != "" {
		return e.URL
	}
	if f.PortalBase == "" {
		return ""
	}
	phone := PhoneNumber(e)
	if phone == "" {
		return ""
	}
	return f.PortalBase + "?primary_phone=" + url.QueryEscape(phone)
}
