package entity

// Kind discriminates message bodies.
type Kind uint8

const (
	KindText Kind = iota + 1
	KindUpload
	KindForward
	KindReply
	KindSystem
	KindDivider
)

var kindNames = map[Kind]string{
	KindText:    "text",
	KindUpload:  "upload",
	KindForward: "forward",
	KindReply:   "reply",
	KindSystem:  "system",
	KindDivider: "divider",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseKind is the inverse of Kind.String. Unknown names decode as text.
func ParseKind(s string) Kind {
	for k, name := range kindNames {
		if name == s {
			return k
		}
	}
	return KindText
}

// Body is the variant part of a message. The set of implementations is closed.
type Body interface {
	Kind() Kind
	sealed()
}

// MediaType classifies attachments and uploads.
type MediaType string

const (
	MediaNone     MediaType = ""
	MediaImage    MediaType = "image"
	MediaVideo    MediaType = "video"
	MediaAudio    MediaType = "audio"
	MediaFile     MediaType = "file"
	MediaLocation MediaType = "location"
)

// Attachment is the decoded server-side attachment of a message.
type Attachment struct {
	Media     MediaType `json:"media"`
	Width     int       `json:"width,omitempty"`
	Height    int       `json:"height,omitempty"`
	Duration  int       `json:"duration,omitempty"`
	FileName  string    `json:"name,omitempty"`
	Size      int64     `json:"size,omitempty"`
	MimeType  string    `json:"mime_type,omitempty"`
	Latitude  float64   `json:"latitude,omitempty"`
	Longitude float64   `json:"longitude,omitempty"`
}

// Text is a plain message, optionally carrying an attachment whose caption
// is the message text.
type Text struct {
	Attachment Attachment
}

// Upload is a local file on its way to the server.
type Upload struct {
	LocalPath string
	FileName  string
	Media     MediaType
	Size      int64
	Width     int
	Height    int
	Progress  float64
}

// Forward is a message forwarded from another conversation.
type Forward struct {
	OriginSender string
	OriginText   string
	Attachment   Attachment
}

// Reply quotes an earlier message.
type Reply struct {
	To         Ref
	SenderName string
	Text       string
	IsImage    bool
	Attachment Attachment
}

// SystemEvent names a system row.
type SystemEvent string

const (
	SystemJoined      SystemEvent = "joined"
	SystemLeft        SystemEvent = "left"
	SystemCallStarted SystemEvent = "call_started"
	SystemCallEnded   SystemEvent = "call_ended"
)

// IsCall reports whether the event is a call banner.
func (e SystemEvent) IsCall() bool {
	return e == SystemCallStarted || e == SystemCallEnded
}

// System is a participant or call notice.
type System struct {
	Event SystemEvent
	Actor string
}

// Divider is the synthetic unread divider row.
type Divider struct {
	Unread int
}

func (Text) Kind() Kind    { return KindText }
func (Upload) Kind() Kind  { return KindUpload }
func (Forward) Kind() Kind { return KindForward }
func (Reply) Kind() Kind   { return KindReply }
func (System) Kind() Kind  { return KindSystem }
func (Divider) Kind() Kind { return KindDivider }

func (Text) sealed()    {}
func (Upload) sealed()  {}
func (Forward) sealed() {}
func (Reply) sealed()   {}
func (System) sealed()  {}
func (Divider) sealed() {}

// AttachmentOf returns the attachment a body carries, if any.
func AttachmentOf(b Body) (Attachment, bool) {
	switch v := b.(type) {
	case Text:
		return v.Attachment, v.Attachment.Media != MediaNone
	case Forward:
		return v.Attachment, v.Attachment.Media != MediaNone
	case Reply:
		return v.Attachment, v.Attachment.Media != MediaNone
	case Upload:
		return Attachment{
			Media:    v.Media,
			Width:    v.Width,
			Height:   v.Height,
			FileName: v.FileName,
			Size:     v.Size,
		}, true
	default:
		return Attachment{}, false
	}
}
