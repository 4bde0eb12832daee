package types

// MessageRecord is one transcript turn for DynamoDB persistence.
// Partition key SessionID, sort key Seq (zero-padded append index) so a
// session's transcript replays in append order.
type MessageRecord struct {
	SessionID string `json:"sessionId" dynamodbav:"SessionID"` // partition key
	Seq       string `json:"seq" dynamodbav:"Seq"`             // sort key, zero-padded
	Sender    string `json:"sender" dynamodbav:"Sender"`
	Body      string `json:"body" dynamodbav:"Body"`
	Timestamp string `json:"timestamp" dynamodbav:"Timestamp"` // RFC3339
}

// SessionRecord is the per-session summary row written on every state
// transition and on end. Partition key DateKey (creation date), sort key
// SessionID.
type SessionRecord struct {
	DateKey      string  `json:"dateKey" dynamodbav:"DateKey"`     // YYYY-MM-DD (partition key)
	SessionID    string  `json:"sessionId" dynamodbav:"SessionID"` // sort key
	State        string  `json:"state" dynamodbav:"State"`
	AgentID      string  `json:"agentId" dynamodbav:"AgentID"`
	Reason       string  `json:"reason" dynamodbav:"Reason"`
	CreatedAt    string  `json:"createdAt" dynamodbav:"CreatedAt"`     // RFC3339
	RequestedAt  string  `json:"requestedAt" dynamodbav:"RequestedAt"` // RFC3339, empty if never queued
	EndedAt      string  `json:"endedAt" dynamodbav:"EndedAt"`         // RFC3339, empty while open
	WaitTime     float64 `json:"waitTime" dynamodbav:"WaitTime"`       // seconds queued before assignment
	MessageCount int     `json:"messageCount" dynamodbav:"MessageCount"`
	HandedOff    bool    `json:"handedOff" dynamodbav:"HandedOff"`
}
