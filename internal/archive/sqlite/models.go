package sqlite

import "time"

// Message is one archived Gmail message.
type Message struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	RemoteID  string    `json:"gmailId"`
	ThreadID  string    `json:"threadId"`
	Subject   string    `json:"subject"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Date      time.Time `json:"date"`
	Snippet   string    `json:"snippet"`
	Body      string    `json:"body"`
	Labels    []string  `json:"labels"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ListQuery selects a page of a user's archive.
type ListQuery struct {
	Page   int
	Limit  int
	Search string // case-insensitive substring of subject, sender or snippet
}

// Page is one page of List results, newest first.
type Page struct {
	Messages []Message
	Total    int
	Page     int
	Pages    int
}

// Audio is a generated speech file.
type Audio struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Filename    string    `json:"filename"`
	URL         string    `json:"url"`
	TextPreview string    `json:"textPreview"`
	VoiceID     string    `json:"voiceId"`
	FileSize    int64     `json:"fileSize"`
	EmailCount  int       `json:"emailCount"`
	DateFilter  string    `json:"dateFilter"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Person struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type Contact struct {
	Name         string `json:"name"`
	Email        string `json:"email,omitempty"`
	Relationship string `json:"relationship"`
}

type Location struct {
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Country string `json:"country,omitempty"`
}

type Topic struct {
	Topic     string `json:"topic"`
	Frequency int    `json:"frequency"`
}

// Profile is what the assistant inferred about a user from their mail.
type Profile struct {
	UserID             string    `json:"-"`
	Interests          []string  `json:"interests"`
	Hobbies            []string  `json:"hobbies"`
	School             string    `json:"school,omitempty"`
	University         string    `json:"university,omitempty"`
	Company            string    `json:"company,omitempty"`
	JobTitle           string    `json:"jobTitle,omitempty"`
	Supervisor         *Person   `json:"supervisor"`
	BestFriend         *Person   `json:"bestFriend"`
	CloseContacts      []Contact `json:"closeContacts"`
	Location           *Location `json:"location"`
	FrequentTopics     []Topic   `json:"frequentTopics"`
	CommunicationStyle string    `json:"communicationStyle,omitempty"`
	Insights           string    `json:"insights"`
	AnalyzedEmailCount int       `json:"analyzedEmailCount"`
	LastAnalyzed       time.Time `json:"lastAnalyzed"`
}
