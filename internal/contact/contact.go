// Package contact builds the call and WhatsApp links shown on the contact
// page.
package contact

import (
	"net/url"
	"regexp"
	"strings"
)

const (
	DefaultPhone        = "+919080533427"
	DefaultMessage      = "I want ask a question about crackers and orders!"
	DefaultShareMessage = "Hello, I'd like to chat!"
)

var mobileAgent = regexp.MustCompile(`(?i)iPhone|iPad|iPod|Android`)

type Info struct {
	Phone        string `json:"phone"`
	Message      string `json:"message"`
	ShareMessage string `json:"shareMessage"`
}

// Links is the set of URIs a client can open directly.
type Links struct {
	Phone    string `json:"phone"`
	Call     string `json:"call"`
	WhatsApp string `json:"whatsapp"`
	Share    string `json:"share"`
}

func New(phone, message string) Info {
	if phone == "" {
		phone = DefaultPhone
	}
	if message == "" {
		message = DefaultMessage
	}
	return Info{Phone: phone, Message: message, ShareMessage: DefaultShareMessage}
}

func IsMobile(userAgent string) bool {
	return mobileAgent.MatchString(userAgent)
}

func (i Info) CallURI() string {
	return "tel:" + i.Phone
}

// WhatsAppURI opens the app on phones and tablets and WhatsApp Web
// everywhere else.
func (i Info) WhatsAppURI(userAgent string) string {
	query := "phone=" + i.Phone + "&text=" + encodeComponent(i.Message)
	if IsMobile(userAgent) {
		return "whatsapp://send?" + query
	}
	return "https://web.whatsapp.com/send?" + query
}

func (i Info) ShareURI() string {
	return "https://wa.me/" + i.Phone + "?text=" + encodeComponent(i.ShareMessage)
}

func (i Info) Links(userAgent string) Links {
	return Links{
		Phone:    i.Phone,
		Call:     i.CallURI(),
		WhatsApp: i.WhatsAppURI(userAgent),
		Share:    i.ShareURI(),
	}
}

// encodeComponent escapes s the way browsers escape a URI component: spaces
// become %20 and the marks !'()* are left alone.
var componentMarks = strings.NewReplacer("+", "%20", "%21", "!", "%27", "'", "%28", "(", "%29", ")", "%2A", "*")

func encodeComponent(s string) string {
	return componentMarks.Replace(url.QueryEscape(s))
}
