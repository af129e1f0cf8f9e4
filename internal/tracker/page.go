package tracker

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/beacon/beacon/internal/model"
)

// PageInfo is a snapshot of the hosting page and browser environment.
type PageInfo struct {
	URL            string
	Title          string
	Referrer       string
	UserAgent      string
	Language       string
	Timezone       string
	ScreenWidth    int
	ScreenHeight   int
	ViewportWidth  int
	ViewportHeight int
}

// Page reports the current page state. It is consulted for every event so
// single-page applications can change URL and title between events.
type Page interface {
	Info() PageInfo
}

// StaticPage is a Page whose state never changes.
type StaticPage PageInfo

// Info implements Page.
func (p StaticPage) Info() PageInfo { return PageInfo(p) }

func (p PageInfo) metadata() model.Data {
	return model.Data{
		"userAgent":        model.String(p.UserAgent),
		"screenResolution": model.String(dimensions(p.ScreenWidth, p.ScreenHeight)),
		"viewportSize":     model.String(dimensions(p.ViewportWidth, p.ViewportHeight)),
		"language":         model.String(p.Language),
		"timezone":         model.String(p.Timezone),
	}
}

func dimensions(w, h int) string {
	return strconv.Itoa(w) + "x" + strconv.Itoa(h)
}

// maxElementText bounds the click text captured from an element.
const maxElementText = 100

// Element is the part of a DOM element the click observer inspects.
type Element struct {
	Tag        string
	ID         string
	Classes    []string
	Text       string
	Href       string
	Attributes map[string]string
	Parent     *Element
}

// trackable reports whether clicks on e are captured: anchors, buttons and
// anything carrying a data-track attribute.
func (e *Element) trackable() bool {
	switch strings.ToLower(e.Tag) {
	case "a", "button":
		return true
	}
	_, optIn := e.Attributes["data-track"]
	return optIn
}

// closestTrackable walks from e up through its ancestors.
func (e *Element) closestTrackable() *Element {
	for el := e; el != nil; el = el.Parent {
		if el.trackable() {
			return el
		}
	}
	return nil
}

// Form is the part of a form element the submit observer inspects.
type Form struct {
	ID      string
	Classes []string
	Action  string
}

// ScrollPosition describes the viewport position within the document.
type ScrollPosition struct {
	ScrollTop      float64
	ViewportHeight float64
	DocumentHeight float64
}

// Percent returns how much of the document has been brought into view,
// 0-100: the bottom edge of the viewport against the document height.
// A document that fits in the viewport counts as fully scrolled.
func (p ScrollPosition) Percent() int {
	if p.DocumentHeight <= 0 {
		return 100
	}
	pct := (p.ScrollTop + p.ViewportHeight) / p.DocumentHeight * 100
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return int(pct + 0.5)
}

// scrollThreshold maps a percentage to the 25%-multiple it has reached.
func scrollThreshold(percent int) int {
	if percent > 100 {
		percent = 100
	}
	if percent < 0 {
		return 0
	}
	return percent / 25 * 25
}

func truncateText(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
