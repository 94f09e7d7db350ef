// Package dashboard models the transient per-session state of the meal
// screen as a value with pure transitions.
package dashboard

import (
	"errors"
	"time"
)

// BannerTTL is how long a banner stays visible.
const BannerTTL = 5 * time.Second

// ErrBusy is returned when an action starts while another is in flight.
var ErrBusy = errors.New("another action is in progress")

type BannerKind string

const (
	BannerSuccess BannerKind = "success"
	BannerError   BannerKind = "error"
)

// Banner is a dismissible status message.
type Banner struct {
	Kind      BannerKind `json:"kind"`
	Message   string     `json:"message"`
	ExpiresAt time.Time  `json:"expiresAt"`
}

// Editing is the edit-in-progress record.
type Editing struct {
	MealID      string `json:"mealId"`
	Description string `json:"description"`
}

// State is the transient screen state. The zero value is idle.
type State struct {
	Adding     bool     `json:"adding,omitempty"`
	Updating   bool     `json:"updating,omitempty"`
	DeletingID string   `json:"deletingId,omitempty"`
	Editing    *Editing `json:"editing,omitempty"`
	Banner     *Banner  `json:"banner,omitempty"`
}

// Busy reports whether an action is in flight.
func (s State) Busy() bool {
	return s.Adding || s.Updating || s.DeletingID != ""
}

func (s State) withBanner(kind BannerKind, msg string, now time.Time) State {
	s.Banner = &Banner{Kind: kind, Message: msg, ExpiresAt: now.Add(BannerTTL)}
	return s
}

func (s State) BeginAdd() (State, error) {
	if s.Busy() {
		return s, ErrBusy
	}
	s.Adding = true
	s.Banner = nil
	return s, nil
}

func (s State) AddSucceeded(msg string, now time.Time) State {
	s.Adding = false
	return s.withBanner(BannerSuccess, msg, now)
}

func (s State) AddFailed(err error, now time.Time) State {
	s.Adding = false
	return s.withBanner(BannerError, err.Error(), now)
}

// StartEdit opens the edit form for a meal.
func (s State) StartEdit(mealID, description string) (State, error) {
	if s.Busy() {
		return s, ErrBusy
	}
	s.Editing = &Editing{MealID: mealID, Description: description}
	return s, nil
}

func (s State) CancelEdit() State {
	s.Editing = nil
	return s
}

// BeginUpdate requires an open edit.
func (s State) BeginUpdate() (State, error) {
	if s.Busy() {
		return s, ErrBusy
	}
	if s.Editing == nil {
		return s, errors.New("no meal is being edited")
	}
	s.Updating = true
	s.Banner = nil
	return s, nil
}

// UpdateSucceeded closes the edit form.
func (s State) UpdateSucceeded(msg string, now time.Time) State {
	s.Updating = false
	s.Editing = nil
	return s.withBanner(BannerSuccess, msg, now)
}

// UpdateFailed keeps the edit form open so the user can retry.
func (s State) UpdateFailed(err error, now time.Time) State {
	s.Updating = false
	return s.withBanner(BannerError, err.Error(), now)
}

func (s State) BeginDelete(mealID string) (State, error) {
	if s.Busy() {
		return s, ErrBusy
	}
	s.DeletingID = mealID
	s.Banner = nil
	return s, nil
}

// DeleteSucceeded also closes an edit of the deleted meal.
func (s State) DeleteSucceeded(msg string, now time.Time) State {
	if s.Editing != nil && s.Editing.MealID == s.DeletingID {
		s.Editing = nil
	}
	s.DeletingID = ""
	return s.withBanner(BannerSuccess, msg, now)
}

func (s State) DeleteFailed(err error, now time.Time) State {
	s.DeletingID = ""
	return s.withBanner(BannerError, err.Error(), now)
}

func (s State) Dismiss() State {
	s.Banner = nil
	return s
}

// Expire drops the banner once its time is up.
func (s State) Expire(now time.Time) State {
	if s.Banner != nil && !now.Before(s.Banner.ExpiresAt) {
		s.Banner = nil
	}
	return s
}

// Reset clears in-flight flags left behind by an interrupted action while
// keeping the edit and banner.
func (s State) Reset() State {
	s.Adding = false
	s.Updating = false
	s.DeletingID = ""
	return s
}
