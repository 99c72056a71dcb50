package session

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/mediagrab/harvester/internal/harvest"
)

// Class is the outcome of classifying a fetch failure.
type Class int

// Failure classes.
const (
	ClassTransient Class = iota
	ClassSessionExpired
)

// Classifier decides whether a fetch failure means the session credential is
// dead or the source just hiccuped. The source answers login prompts as
// ordinary HTML/JSON rather than a structured error code, so classification
// is necessarily heuristic and injected rather than hard-coded.
type Classifier interface {
	Classify(err error) Class
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(err error) Class

// Classify implements Classifier.
func (f ClassifierFunc) Classify(err error) Class { return f(err) }

// Login-prompt fragments observed in the source's unauthenticated responses.
var defaultExpiryMarkers = []string{
	"passport.weibo",
	"sina visitor system",
	"login required",
	"请先登录",
	"not logged in",
	"$render_data missing",
}

// KeywordClassifier matches the error text against a marker list.
type KeywordClassifier struct {
	markers []string
}

// NewKeywordClassifier builds a classifier; with no markers the default
// login-prompt set applies.
func NewKeywordClassifier(markers ...string) *KeywordClassifier {
	if len(markers) == 0 {
		markers = defaultExpiryMarkers
	}
	lowered := make([]string, len(markers))
	for i, m := range markers {
		lowered[i] = strings.ToLower(m)
	}
	return &KeywordClassifier{markers: lowered}
}

// Classify reports ClassSessionExpired when the error carries the sentinel or
// its text contains a login-prompt marker; everything else is transient.
func (c *KeywordClassifier) Classify(err error) Class {
	if err == nil {
		return ClassTransient
	}
	if errors.Is(err, harvest.ErrSessionExpired) {
		return ClassSessionExpired
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	text := strings.ToLower(err.Error())
	for _, marker := range c.markers {
		if strings.Contains(text, marker) {
			return ClassSessionExpired
		}
	}
	return ClassTransient
}
