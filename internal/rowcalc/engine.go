// Package rowcalc computes per-row presentation data: text layout, image
// sizing, reply and forward container widths, grouping and avatars.
package rowcalc

import (
	"fmt"
	"math"
	"time"

	"github.com/matheus3301/threadline/internal/entity"
)

// ReactionWindow is how long after sending a message still accepts reactions.
const ReactionWindow = 14 * 24 * time.Hour

// ThreadContext is the thread-wide input of a calculation.
type ThreadContext struct {
	ThreadWidth   float64
	MaxImageWidth float64
	IsChannel     bool
	IsGroup       bool
	SelfID        string
	Now           time.Time
}

// Neighbors are the rows adjacent to the one being calculated.
type Neighbors struct {
	Prev *entity.Message
	Next *entity.Message
}

// Key identifies a model: the row token and the row generation it was
// computed for.
type Key struct {
	Token      string
	Generation uint64
}

func (k Key) String() string { return fmt.Sprintf("%s@%d", k.Token, k.Generation) }

// Model is the disposable presentation data of one row.
type Model struct {
	Key  Key
	Kind entity.Kind

	IsMe         bool
	IsFirstOfRun bool
	IsLastOfRun  bool
	GroupName    string

	TextLines []string
	TextRect  Size
	Image     *Size
	File      *entity.Attachment

	ReplyWidth   float64
	ForwardWidth float64

	EstimatedHeight float64

	AvatarColor    string
	AvatarInitials string
	CanReact       bool
}

// Engine calculates models. It holds no mutable state and is safe for
// concurrent use.
type Engine struct {
	metrics Metrics
}

// NewEngine returns an engine measuring text with m. Zero metrics mean
// DefaultMetrics.
func NewEngine(m Metrics) *Engine {
	if m.CellWidth <= 0 || m.LineHeight <= 0 {
		m = DefaultMetrics
	}
	return &Engine{metrics: m}
}

// Metrics returns the engine's text metrics.
func (e *Engine) Metrics() Metrics { return e.metrics }

// Calculate computes the model of m.
func (e *Engine) Calculate(m *entity.Message, tc ThreadContext, nb Neighbors) Model {
	model := Model{
		Key:  Key{Token: m.UniqueToken},
		Kind: m.Kind(),
		IsMe: tc.SelfID != "" && m.ParticipantID == tc.SelfID,
	}

	switch b := m.Body.(type) {
	case entity.Divider:
		model.EstimatedHeight = dividerHeight
		return model
	case entity.System:
		model.EstimatedHeight = systemBannerHeight
		if b.Event.IsCall() {
			model.EstimatedHeight = callBannerHeight
		}
		return model
	}

	if !tc.IsChannel {
		model.IsFirstOfRun = !sameRun(nb.Prev, m)
		model.IsLastOfRun = !sameRun(nb.Next, m)
		if tc.IsGroup && model.IsFirstOfRun && !model.IsMe {
			model.GroupName = m.SenderName
		}
	}

	name := m.SenderName
	if name == "" {
		name = m.ParticipantID
	}
	model.AvatarInitials = Initials(name)
	model.AvatarColor = AvatarColor(name)

	bubble := tc.ThreadWidth * bubbleWidthRatio
	model.TextLines, model.TextRect = e.metrics.TextBlock(m.Text, bubble-2*bubblePaddingH)

	if w, h, ok := imageSource(m); ok {
		size := FitImage(w, h, tc.MaxImageWidth, m.Text != "")
		model.Image = &size
	}
	if att, ok := entity.AttachmentOf(m.Body); ok && att.Media != entity.MediaImage && att.Media != entity.MediaLocation {
		model.File = &att
	}

	switch b := m.Body.(type) {
	case entity.Reply:
		model.ReplyWidth = e.replyWidth(m, b, tc)
	case entity.Forward:
		model.ForwardWidth = e.forwardWidth(b, bubble)
	}

	model.CanReact = m.ServerID != 0 && tc.Now.Before(time.UnixMilli(m.Time).Add(ReactionWindow))
	model.EstimatedHeight = e.estimateHeight(m, &model)
	return model
}

func sameRun(other, m *entity.Message) bool {
	if other == nil {
		return false
	}
	switch other.Kind() {
	case entity.KindDivider, entity.KindSystem:
		return false
	}
	return other.ParticipantID == m.ParticipantID
}

// replyWidth is the wider of the quoted-text line and the sender line. It is
// capped when the quote is shorter than the reply and the reply is not an
// image.
func (e *Engine) replyWidth(m *entity.Message, r entity.Reply, tc ThreadContext) float64 {
	textW := e.metrics.Width(m.Text)
	byText := textW + replyLabelWidth
	if r.IsImage {
		byText += replyImageWidth
	}
	byName := e.metrics.Width(r.SenderName) + replyIconWidth + replyLabelWidth
	w := math.Max(byText, byName)

	_, _, isImage := imageSource(m)
	if e.metrics.Width(r.Text) < textW && !isImage {
		w = math.Min(w, tc.ThreadWidth*replyCapRatio)
	}
	return w
}

func (e *Engine) forwardWidth(f entity.Forward, bubble float64) float64 {
	w := math.Max(e.metrics.Width(f.OriginText), e.metrics.Width(f.OriginSender)+forwardLabelWidth)
	return math.Min(w+2*bubblePaddingH, bubble)
}

func (e *Engine) estimateHeight(m *entity.Message, model *Model) float64 {
	h := rowSpacing + 2*bubblePaddingV + footerHeight
	if model.IsFirstOfRun {
		h += runSpacing
	}
	if model.GroupName != "" {
		h += senderHeight
	}
	switch m.Body.(type) {
	case entity.Reply:
		h += replyBlockHeight
	case entity.Forward:
		h += forwardBlockHeight
	case entity.Upload:
		h += progressHeight
	}

	if att, ok := entity.AttachmentOf(m.Body); ok {
		switch att.Media {
		case entity.MediaVideo:
			h += videoHeight
		case entity.MediaAudio:
			h += audioHeight
		case entity.MediaFile:
			h += fileHeight
		case entity.MediaLocation:
			h += mapHeight
		}
	}
	// Locations are drawn as a fixed-height map, not at their image size.
	if model.Image != nil && !isLocation(m) {
		h += model.Image.Height
	}
	return h + model.TextRect.Height
}

func isLocation(m *entity.Message) bool {
	att, ok := entity.AttachmentOf(m.Body)
	return ok && att.Media == entity.MediaLocation
}
