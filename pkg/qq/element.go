// Copyright 2024-2026 Aiku AI

// Package qq defines the QQ message model used by the bridge core: ordered
// element chains, message identities (seq/rand) and room events.
//
// Element is a closed sum type. Code that switches over elements must keep a
// default arm, since adapters may produce [Unsupported] for content they
// cannot decode.
package qq

import (
	"fmt"
)

// Element is one item of a QQ message chain.
type Element interface {
	// Type returns a short machine name such as "text" or "image".
	Type() string
	isElement()
}

// Text is a run of plain text.
type Text struct {
	Text string
}

// Mention is an @mention. UserID 0 means "everyone".
type Mention struct {
	UserID int64
	Name   string
}

// IsAll reports whether the mention targets every member of the group.
func (m Mention) IsAll() bool { return m.UserID == 0 }

// Image is a picture. Flash images can be viewed once and are never merged
// with other content.
type Image struct {
	URL   string
	Name  string
	Size  int64
	Flash bool
}

// Face is a built-in QQ emoticon.
type Face struct {
	ID   int
	Name string
}

// Sticker is a marketplace sticker.
type Sticker struct {
	URL  string
	Name string
}

type Voice struct {
	URL      string
	Duration int
}

type Video struct {
	URL  string
	Name string
}

// File is a group or private file attachment.
type File struct {
	URL  string
	Name string
	Size int64
}

type Poll struct {
	Question string
	Options  []string
}

// Contact is a shared QQ user or group card.
type Contact struct {
	Group bool
	ID    int64
	Name  string
}

type Location struct {
	Latitude  float64
	Longitude float64
	Title     string
	Address   string
}

// ForwardBundle references a merged-forward record that has to be fetched
// separately with its resource id.
type ForwardBundle struct {
	ResID string
}

// Card is a structured app share encoded as JSON or XML.
type Card struct {
	Format string
	Data   string
	Title  string
	URL    string
}

// NoticeKind distinguishes the system notices embedded in message chains.
type NoticeKind int

const (
	NoticeDice NoticeKind = iota + 1
	NoticeRPS
	NoticePoke
	NoticeSenderTag
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeDice:
		return "dice"
	case NoticeRPS:
		return "rps"
	case NoticePoke:
		return "poke"
	case NoticeSenderTag:
		return "sender_tag"
	default:
		return fmt.Sprintf("notice(%d)", int(k))
	}
}

// SystemNotice is a dice roll, rock-paper-scissors, poke or sender tag.
type SystemNotice struct {
	Kind  NoticeKind
	Value int
	Text  string
}

// Marker is attached to messages the bridge itself sent, so that their
// echoes can be recognized.
type Marker struct {
	Data string
}

// Unsupported is produced for any segment the adapter could not decode.
type Unsupported struct {
	Kind string
}

func (Text) Type() string          { return "text" }
func (Mention) Type() string       { return "at" }
func (Face) Type() string          { return "face" }
func (Sticker) Type() string       { return "sticker" }
func (Voice) Type() string         { return "record" }
func (Video) Type() string         { return "video" }
func (File) Type() string          { return "file" }
func (Poll) Type() string          { return "poll" }
func (Contact) Type() string       { return "contact" }
func (Location) Type() string      { return "location" }
func (ForwardBundle) Type() string { return "forward" }
func (c Card) Type() string        { return c.Format }
func (Marker) Type() string        { return "marker" }
func (u Unsupported) Type() string { return u.Kind }

func (i Image) Type() string {
	if i.Flash {
		return "flash"
	}
	return "image"
}

func (n SystemNotice) Type() string {
	return n.Kind.String()
}

func (Text) isElement()          {}
func (Mention) isElement()       {}
func (Image) isElement()         {}
func (Face) isElement()          {}
func (Sticker) isElement()       {}
func (Voice) isElement()         {}
func (Video) isElement()         {}
func (File) isElement()          {}
func (Poll) isElement()          {}
func (Contact) isElement()       {}
func (Location) isElement()      {}
func (ForwardBundle) isElement() {}
func (Card) isElement()          {}
func (SystemNotice) isElement()  {}
func (Marker) isElement()        {}
func (Unsupported) isElement()   {}

// Chainable reports whether el can share one outbound message with its
// neighbours. Voice, video, flash images, locations, cards, forward bundles
// and pokes always travel alone.
func Chainable(el Element) bool {
	switch e := el.(type) {
	case Text, Mention, Face, Sticker, File, Poll, Contact, Unsupported:
		return true
	case Image:
		return !e.Flash
	case SystemNotice:
		return e.Kind != NoticePoke
	case Voice, Video, Location, ForwardBundle, Card, Marker:
		return false
	default:
		return false
	}
}

// HasMarker reports whether the chain carries a bridge marker.
func HasMarker(elements []Element) bool {
	for _, el := range elements {
		if _, ok := el.(Marker); ok {
			return true
		}
	}
	return false
}
