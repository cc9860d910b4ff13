package bilibili

// VideoHandle identifies an uploaded video file for a submission
type VideoHandle struct {
	Filename string
	BizID    int64
}

// Submission describes the composition published from an uploaded video
type Submission struct {
	Title     string
	Desc      string
	Tag       string
	TID       int
	Copyright int
	NoReprint int
	Cover     string
	Video     VideoHandle
}

// Result is returned by a successful submission
type Result struct {
	AID  int64
	BVID string
}

type preuploadResponse struct {
	OK        int    `json:"OK"`
	Endpoint  string `json:"endpoint"`
	UposURI   string `json:"upos_uri"`
	Auth      string `json:"auth"`
	BizID     int64  `json:"biz_id"`
	ChunkSize int64  `json:"chunk_size"`
}

type initUploadResponse struct {
	OK       int    `json:"OK"`
	UploadID string `json:"upload_id"`
}

type uploadedPart struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"eTag"`
}

type completeUploadRequest struct {
	Parts []uploadedPart `json:"parts"`
}

type completeUploadResponse struct {
	OK      int    `json:"OK"`
	Message string `json:"message,omitempty"`
}

type apiResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type coverResponse struct {
	apiResponse
	Data struct {
		URL string `json:"url"`
	} `json:"data"`
}

type submitVideo struct {
	Filename string `json:"filename"`
	Title    string `json:"title"`
	Desc     string `json:"desc"`
	CID      int64  `json:"cid"`
}

type submitSubtitle struct {
	Lan  string `json:"lan"`
	Open int    `json:"open"`
}

type submitRequest struct {
	Copyright    int            `json:"copyright"`
	Cover        string         `json:"cover"`
	Desc         string         `json:"desc"`
	DescFormatID int            `json:"desc_format_id"`
	Dynamic      string         `json:"dynamic"`
	Interactive  int            `json:"interactive"`
	NoReprint    int            `json:"no_reprint"`
	Subtitle     submitSubtitle `json:"subtitle"`
	Tag          string         `json:"tag"`
	TID          int            `json:"tid"`
	Title        string         `json:"title"`
	Videos       []submitVideo  `json:"videos"`
}

type submitResponse struct {
	apiResponse
	Data struct {
		AID  int64  `json:"aid"`
		BVID string `json:"bvid"`
	} `json:"data"`
}
