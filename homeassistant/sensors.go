// Package homeassistant turns a list of loans into Home Assistant MQTT
// discovery and state messages.
package homeassistant

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/farwydi/bookaware"
)

const (
	SensorClosestDueDate = "closest_due_date"
	SensorBooksDueSoon   = "books_due_soon"
	SensorBooksDueTotal  = "books_due_total"

	DefaultTopicPrefix = "homeassistant/sensor/library_books"
	DefaultDueSoonDays = 5

	deviceIdentifier = "library_books_tracker"
	deviceName       = "Library Books"
)

type sensor struct {
	id   string
	name string
}

func sensors(soonDays int) []sensor {
	return []sensor{
		{id: SensorClosestDueDate, name: "Closest Due Date"},
		{id: SensorBooksDueSoon, name: fmt.Sprintf("Books Due in %d Days", soonDays)},
		{id: SensorBooksDueTotal, name: "Total Outstanding Books"},
	}
}

type device struct {
	Identifiers []string `json:"identifiers"`
	Name        string   `json:"name"`
}

type discoveryConfig struct {
	Name                string `json:"name"`
	StateTopic          string `json:"state_topic"`
	JSONAttributesTopic string `json:"json_attributes_topic,omitempty"`
	UniqueID            string `json:"unique_id"`
	Device              device `json:"device"`
}

func ConfigTopic(prefix, id string) string     { return prefix + "/" + id + "/config" }
func StateTopic(prefix, id string) string      { return prefix + "/" + id + "/state" }
func AttributesTopic(prefix, id string) string { return prefix + "/" + id + "/attributes" }

// Topics lists every topic the publisher writes to under prefix.
func Topics(prefix string) []string {
	var topics []string
	for _, s := range sensors(DefaultDueSoonDays) {
		topics = append(topics, ConfigTopic(prefix, s.id), StateTopic(prefix, s.id))
	}
	return append(topics, AttributesTopic(prefix, SensorBooksDueTotal))
}

// DiscoveryMessages builds the retained autodiscovery configs.
func DiscoveryMessages(prefix string, soonDays int) ([]*bookaware.Message, error) {
	var msgs []*bookaware.Message
	for _, s := range sensors(soonDays) {
		cfg := discoveryConfig{
			Name:       s.name,
			StateTopic: StateTopic(prefix, s.id),
			UniqueID:   "library_" + s.id,
			Device: device{
				Identifiers: []string{deviceIdentifier},
				Name:        deviceName,
			},
		}
		if s.id == SensorBooksDueTotal {
			cfg.JSONAttributesTopic = AttributesTopic(prefix, SensorBooksDueTotal)
		}

		payload, err := json.Marshal(cfg)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, &bookaware.Message{
			Topic:   ConfigTopic(prefix, s.id),
			Payload: payload,
			Retain:  true,
		})
	}
	return msgs, nil
}

// Summary is the sensor state derived from one scrape.
type Summary struct {
	// ClosestDueDate is the earliest due date, overdue loans included.
	// Zero when there are no loans.
	ClosestDueDate time.Time
	DueSoon        int
	DueTotal       int
}

// Summarize counts loans due today or later, and those of them due within
// soonDays of today.
func Summarize(loans []bookaware.Loan, now time.Time, soonDays int) Summary {
	var s Summary
	for _, l := range loans {
		if s.ClosestDueDate.IsZero() || l.DueDate.Before(s.ClosestDueDate) {
			s.ClosestDueDate = l.DueDate
		}

		days := bookaware.DaysUntil(l.DueDate, now)
		if days >= 0 {
			s.DueTotal++
			if days <= soonDays {
				s.DueSoon++
			}
		}
	}
	return s
}

type attributes struct {
	Books []bookaware.Loan `json:"books"`
}

// StateMessages builds the sensor states and the attributes document.
func StateMessages(prefix string, summary Summary, loans []bookaware.Loan) ([]*bookaware.Message, error) {
	closest := ""
	if !summary.ClosestDueDate.IsZero() {
		closest = summary.ClosestDueDate.Format(bookaware.DateLayout)
	}

	if loans == nil {
		loans = []bookaware.Loan{}
	}
	attrs, err := json.Marshal(attributes{Books: loans})
	if err != nil {
		return nil, err
	}

	return []*bookaware.Message{
		{Topic: StateTopic(prefix, SensorClosestDueDate), Payload: []byte(closest)},
		{Topic: StateTopic(prefix, SensorBooksDueSoon), Payload: []byte(strconv.Itoa(summary.DueSoon))},
		{Topic: StateTopic(prefix, SensorBooksDueTotal), Payload: []byte(strconv.Itoa(summary.DueTotal))},
		{Topic: AttributesTopic(prefix, SensorBooksDueTotal), Payload: attrs},
	}, nil
}
