// Package xml encodes and decodes the CalDAV PROPFIND/REPORT XML bodies:
// multistatus responses with DAV:/CalDAV/CalendarServer namespaces, and the
// handful of request bodies (propfind, calendar-query, calendar-multiget,
// sync-collection) this engine accepts.
//
// Written as one self-consistent encoding/xml struct-marshal file rather
// than split across several files, keeping the property/request structs
// and their (de)serialization next to each other.
package xml

import (
	"encoding/xml"
	"fmt"
	"net/http"
)

const (
	nsDAV = "DAV:"
	nsCal = "urn:ietf:params:xml:ns:caldav"
	nsCS  = "http://calendarserver.org/ns/"
)

// MultiStatus is the root of every PROPFIND/REPORT response body.
type MultiStatus struct {
	XMLName   xml.Name   `xml:"d:multistatus"`
	XmlnsD    string     `xml:"xmlns:d,attr"`
	XmlnsC    string     `xml:"xmlns:c,attr"`
	XmlnsCS   string     `xml:"xmlns:cs,attr"`
	Responses []Response `xml:"d:response"`
	// SyncToken is only set on a sync-collection REPORT response.
	SyncToken string `xml:"d:sync-token,omitempty"`
}

func NewMultiStatus(responses ...Response) MultiStatus {
	return MultiStatus{XmlnsD: nsDAV, XmlnsC: nsCal, XmlnsCS: nsCS, Responses: responses}
}

type Response struct {
	Href      string     `xml:"d:href"`
	PropStats []PropStat `xml:"d:propstat"`
}

type PropStat struct {
	Prop   Prop   `xml:"d:prop"`
	Status string `xml:"d:status"`
}

func StatusLine(code int) string {
	return fmt.Sprintf("HTTP/1.1 %d %s", code, http.StatusText(code))
}

func OK() string       { return StatusLine(http.StatusOK) }
func NotFound() string { return StatusLine(http.StatusNotFound) }

// Prop is the union of every property this server can return. Only the
// fields relevant to a given response are populated; encoding/xml omits
// zero-value pointer fields via omitempty.
type Prop struct {
	DisplayName *string `xml:"d:displayname,omitempty"`

	ResourceType *ResourceType `xml:"d:resourcetype,omitempty"`

	CalendarDescription *string `xml:"c:calendar-description,omitempty"`
	GetCTag             *string `xml:"cs:getctag,omitempty"`

	SupportedCalendarComponentSet *SupportedCompSet `xml:"c:supported-calendar-component-set,omitempty"`
	CalendarHomeSet                *HrefProp        `xml:"c:calendar-home-set,omitempty"`
	CurrentUserPrincipal           *HrefProp        `xml:"d:current-user-principal,omitempty"`
	Owner                          *HrefProp        `xml:"d:owner,omitempty"`
	SupportedReportSet             *SupportedReportSet `xml:"d:supported-report-set,omitempty"`
	SyncToken                      *string          `xml:"d:sync-token,omitempty"`

	GetETag         *string `xml:"d:getetag,omitempty"`
	GetContentType  *string `xml:"d:getcontenttype,omitempty"`
	GetLastModified *string `xml:"d:getlastmodified,omitempty"`
	CalendarData    *string `xml:"c:calendar-data,omitempty"`
}

type HrefProp struct {
	Href string `xml:"d:href"`
}

type ResourceType struct {
	Collection *struct{} `xml:"d:collection,omitempty"`
	Calendar   *struct{} `xml:"c:calendar,omitempty"`
	Principal  *struct{} `xml:"d:principal,omitempty"`
}

func CollectionResourceType() *ResourceType { return &ResourceType{Collection: &struct{}{}} }
func CalendarResourceType() *ResourceType {
	return &ResourceType{Collection: &struct{}{}, Calendar: &struct{}{}}
}
func PrincipalResourceType() *ResourceType { return &ResourceType{Principal: &struct{}{}} }

type SupportedCompSet struct {
	Comp []Comp `xml:"c:comp"`
}

type Comp struct {
	Name string `xml:"name,attr"`
}

var SupportedVEvent = &SupportedCompSet{Comp: []Comp{{Name: "VEVENT"}}}

type SupportedReportSet struct {
	Reports []SupportedReport `xml:"d:supported-report"`
}

type SupportedReport struct {
	Report ReportName `xml:"d:report"`
}

type ReportName struct {
	CalendarQuery     *struct{} `xml:"c:calendar-query,omitempty"`
	CalendarMultiget  *struct{} `xml:"c:calendar-multiget,omitempty"`
	SyncCollection    *struct{} `xml:"d:sync-collection,omitempty"`
}

var DefaultSupportedReportSet = &SupportedReportSet{Reports: []SupportedReport{
	{Report: ReportName{CalendarQuery: &struct{}{}}},
	{Report: ReportName{CalendarMultiget: &struct{}{}}},
	{Report: ReportName{SyncCollection: &struct{}{}}},
}}

func CalContentType() string {
	return "text/calendar; charset=utf-8; component=VEVENT"
}

func StrPtr(s string) *string { return &s }

// Write marshals ms as `application/xml; charset=utf-8` with an explicit
// Content-Length and a 207 Multi-Status code.
func Write(w http.ResponseWriter, ms MultiStatus) error {
	body, err := xml.Marshal(ms)
	if err != nil {
		return err
	}
	out := append([]byte(xml.Header), body...)
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(out)))
	w.WriteHeader(207)
	_, err = w.Write(out)
	return err
}

// -- request bodies --

type PropfindRequest struct {
	XMLName xml.Name     `xml:"propfind"`
	Prop    PropfindProp `xml:"prop"`
}

// PropfindProp lists which properties were requested; a non-nil pointer
// field means "requested" and a nil one "not requested", since Go decodes a
// present empty element into a non-nil pointer to a zero value.
type PropfindProp struct {
	DisplayName                    *struct{} `xml:"displayname"`
	ResourceType                   *struct{} `xml:"resourcetype"`
	CalendarDescription             *struct{} `xml:"calendar-description"`
	GetCTag                         *struct{} `xml:"getctag"`
	SupportedCalendarComponentSet   *struct{} `xml:"supported-calendar-component-set"`
	CalendarHomeSet                 *struct{} `xml:"calendar-home-set"`
	CurrentUserPrincipal            *struct{} `xml:"current-user-principal"`
	Owner                           *struct{} `xml:"owner"`
	SupportedReportSet               *struct{} `xml:"supported-report-set"`
	SyncToken                        *struct{} `xml:"sync-token"`
	GetETag                          *struct{} `xml:"getetag"`
	GetContentType                   *struct{} `xml:"getcontenttype"`
	GetLastModified                  *struct{} `xml:"getlastmodified"`
	CalendarData                     *struct{} `xml:"calendar-data"`
}

type CalendarQueryRequest struct {
	XMLName xml.Name       `xml:"calendar-query"`
	Prop    PropfindProp   `xml:"prop"`
	Filter  CalendarFilter `xml:"filter"`
}

type CalendarFilter struct {
	CompFilter CompFilter `xml:"comp-filter"`
}

type CompFilter struct {
	Name       string      `xml:"name,attr"`
	CompFilter *CompFilter `xml:"comp-filter"`
	TimeRange  *TimeRange  `xml:"time-range"`
}

type TimeRange struct {
	Start string `xml:"start,attr"`
	End   string `xml:"end,attr"`
}

type CalendarMultigetRequest struct {
	XMLName xml.Name     `xml:"calendar-multiget"`
	Prop    PropfindProp `xml:"prop"`
	Hrefs   []string     `xml:"href"`
}

type SyncCollectionRequest struct {
	XMLName   xml.Name     `xml:"sync-collection"`
	SyncToken string       `xml:"sync-token"`
	Prop      PropfindProp `xml:"prop"`
}

// ValidSyncTokenError is the RFC 6578 precondition failure body for an
// unrecognized sync-token.
type ValidSyncTokenError struct {
	XMLName         xml.Name  `xml:"d:error"`
	XmlnsD          string    `xml:"xmlns:d,attr"`
	ValidSyncToken  *struct{} `xml:"d:valid-sync-token"`
}

func WriteValidSyncTokenError(w http.ResponseWriter) error {
	body, err := xml.Marshal(ValidSyncTokenError{XmlnsD: nsDAV, ValidSyncToken: &struct{}{}})
	if err != nil {
		return err
	}
	out := append([]byte(xml.Header), body...)
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(out)))
	w.WriteHeader(http.StatusForbidden)
	_, err = w.Write(out)
	return err
}
