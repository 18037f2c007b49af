package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/Martian-dev/ai-mail-reader/internal/archive/sqlite"
)

var ErrInvalidAnalysis = errors.New("model returned invalid analysis JSON")

const analyzeSystem = "You are an expert at analyzing emails to extract personal insights. " +
	"You MUST return ONLY valid JSON, no additional text, no explanations, no markdown formatting. " +
	"The response must be a valid JSON object that can be parsed directly."

const analyzePrompt = `Analyze the following emails to extract insights about the user. Extract information about:

1. Personal Interests & Hobbies: What does the user like? What are their hobbies or interests mentioned?
2. Education: Where does the user go to school or university? Any educational institutions mentioned?
3. Work Information:
   - Company name
   - Job title/role
   - Supervisor or manager name and email (if mentioned)
4. Relationships:
   - Best friend name and email (most frequently contacted person who seems like a close friend)
   - Close contacts (friends, colleagues, family members) with their names, emails, and relationship type
5. Location: City, state, country if mentioned
6. Frequent Topics: What topics or subjects are frequently discussed?
7. Communication Style: How does the user communicate? (formal, casual, professional, etc.)

Return the analysis as a JSON object with the following structure:
{
  "interests": ["interest1", "interest2"],
  "hobbies": ["hobby1", "hobby2"],
  "school": "school name or null",
  "university": "university name or null",
  "company": "company name or null",
  "jobTitle": "job title or null",
  "supervisor": {"name": "name or null", "email": "email or null"},
  "bestFriend": {"name": "name or null", "email": "email or null"},
  "closeContacts": [{"name": "name", "email": "email", "relationship": "friend/colleague/family"}],
  "location": {"city": "city or null", "state": "state or null", "country": "country or null"},
  "frequentTopics": [{"topic": "topic name", "frequency": number}],
  "communicationStyle": "style description or null",
  "insights": "A brief paragraph summarizing key insights about this person"
}

Only include information that is clearly mentioned or can be reasonably inferred. Use null for fields where information is not available. Be accurate and don't make assumptions.

Emails:
%s

Analysis (JSON only):`

// analysis is the model's answer before normalization. Loosely typed fields
// are decoded separately so one malformed field does not discard the rest.
type analysis struct {
	Interests          json.RawMessage   `json:"interests"`
	Hobbies            json.RawMessage   `json:"hobbies"`
	School             string            `json:"school"`
	University         string            `json:"university"`
	Company            string            `json:"company"`
	JobTitle           string            `json:"jobTitle"`
	Supervisor         *sqlite.Person    `json:"supervisor"`
	BestFriend         *sqlite.Person    `json:"bestFriend"`
	CloseContacts      []sqlite.Contact  `json:"closeContacts"`
	Location           *sqlite.Location  `json:"location"`
	FrequentTopics     []json.RawMessage `json:"frequentTopics"`
	CommunicationStyle string            `json:"communicationStyle"`
	Insights           string            `json:"insights"`
}

// Analyze asks the model for a profile of the user behind emails. The result
// is normalized but not stored.
func (a *Assistant) Analyze(ctx context.Context, userID string, emails []Email) (*sqlite.Profile, error) {
	content, err := a.complete(ctx, completion{
		system:      analyzeSystem,
		user:        fmt.Sprintf(analyzePrompt, formatEmails(emails)),
		temperature: 0.3,
		maxTokens:   2000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to analyze emails: %w", err)
	}

	var raw analysis
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &raw); err != nil {
		a.log.WithField("user_id", userID).WithError(err).Warn("Unparseable analysis from model")
		return nil, fmt.Errorf("%w: %v", ErrInvalidAnalysis, err)
	}

	p := normalize(&raw)
	p.UserID = userID
	p.AnalyzedEmailCount = len(emails)
	p.LastAnalyzed = time.Now()
	return p, nil
}

func normalize(raw *analysis) *sqlite.Profile {
	p := &sqlite.Profile{
		Interests:          stringList(raw.Interests),
		Hobbies:            stringList(raw.Hobbies),
		School:             raw.School,
		University:         raw.University,
		Company:            raw.Company,
		JobTitle:           raw.JobTitle,
		CloseContacts:      []sqlite.Contact{},
		FrequentTopics:     []sqlite.Topic{},
		CommunicationStyle: raw.CommunicationStyle,
		Insights:           raw.Insights,
	}

	if raw.Supervisor != nil && raw.Supervisor.Name != "" {
		p.Supervisor = raw.Supervisor
	}
	if raw.BestFriend != nil && raw.BestFriend.Name != "" {
		p.BestFriend = raw.BestFriend
	}
	if l := raw.Location; l != nil && (l.City != "" || l.Country != "") {
		p.Location = l
	}

	for _, c := range raw.CloseContacts {
		if c.Relationship == "" {
			c.Relationship = "unknown"
		}
		p.CloseContacts = append(p.CloseContacts, c)
	}

	for _, item := range raw.FrequentTopics {
		if t, ok := parseTopic(item); ok {
			p.FrequentTopics = append(p.FrequentTopics, t)
		}
	}

	return p
}

// parseTopic accepts either {"topic": ..., "frequency": ...} or a bare string.
func parseTopic(item json.RawMessage) (sqlite.Topic, bool) {
	var name string
	if err := json.Unmarshal(item, &name); err == nil {
		return sqlite.Topic{Topic: name, Frequency: 1}, name != ""
	}

	var obj struct {
		Topic     string   `json:"topic"`
		Frequency *float64 `json:"frequency"`
	}
	if err := json.Unmarshal(item, &obj); err != nil || obj.Topic == "" {
		return sqlite.Topic{}, false
	}

	t := sqlite.Topic{Topic: obj.Topic, Frequency: 1}
	if obj.Frequency != nil {
		t.Frequency = int(*obj.Frequency)
	}
	return t, true
}

func stringList(data json.RawMessage) []string {
	var list []string
	if len(data) == 0 || json.Unmarshal(data, &list) != nil || list == nil {
		return []string{}
	}
	return list
}

// stripCodeFence removes a surrounding ``` or ```json fence.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
