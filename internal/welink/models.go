package welink

import "fmt"

// proxyAuthRequest is the body of POST /v1/usg/acs/auth/proxy
type proxyAuthRequest struct {
	AuthServerType string `json:"authServerType"`
	AuthType       string `json:"authType"`
	ClientType     int    `json:"clientType"`
	Account        string `json:"account"`
	Pwd            string `json:"pwd"`
}

// proxyAuthResponse carries the proxy access token
type proxyAuthResponse struct {
	AccessToken string `json:"accessToken"`
	// ExpireTime is a unix timestamp in seconds or milliseconds
	ExpireTime int64 `json:"expireTime"`
}

// RecordFile is one row of GET /v1/mmc/management/record/files
type RecordFile struct {
	ConfID    string `json:"confID"`
	ConfUUID  string `json:"confUUID"`
	Subject   string `json:"subject"`
	StartTime string `json:"startTime"` // "2006-01-02 15:04" in UTC
	RcdTime   int64  `json:"rcdTime"`   // seconds
	RcdSize   int64  `json:"rcdSize"`
}

// recordFilesResponse is the page returned by the record list endpoint
type recordFilesResponse struct {
	Offset int          `json:"offset"`
	Limit  int          `json:"limit"`
	Count  int          `json:"count"`
	Data   []RecordFile `json:"data"`
}

// RecordURL is one downloadable stream of a recording
type RecordURL struct {
	FileType string `json:"fileType"`
	URL      string `json:"url"`
	Token    string `json:"token"`
}

// downloadURLsResponse is returned by the record downloadurls endpoint
type downloadURLsResponse struct {
	RecordURLs []struct {
		URLs []RecordURL `json:"urls"`
	} `json:"recordUrls"`
}

// historyConference is one row of the conference history list
type historyConference struct {
	ConferenceID string `json:"conferenceID"`
	ConfUUID     string `json:"confUUID"`
	Subject      string `json:"subject"`
}

type historyResponse struct {
	Count int                 `json:"count"`
	Data  []historyConference `json:"data"`
}

// Attendee is one entry of confAttendeeRecord
type Attendee struct {
	Name         string `json:"displayName"`
	CallNumber   string `json:"callNumber"`
	JoinTime     int64  `json:"joinTime"`  // ms
	LeaveTime    int64  `json:"leaveTime"` // ms
	UserUUID     string `json:"userUUID"`
	Role         string `json:"role"`
	TerminalType string `json:"terminalType"`
}

type attendeeResponse struct {
	Count int        `json:"count"`
	Data  []Attendee `json:"data"`
}

// APIError is the error body returned by the WeLink API
type APIError struct {
	Code    string `json:"error_code"`
	Message string `json:"error_msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("welink API error %s: %s", e.Code, e.Message)
}
