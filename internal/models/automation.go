// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMalformedRules = errors.New("malformed automation rules")
	ErrRuleNotFound   = errors.New("automation rule not found")
	ErrInvalidRule    = errors.New("invalid automation rule")
)

// RuleID identifies a rule. Stored rules may carry numeric ids, which are
// accepted and kept in their decimal string form.
type RuleID string

func (id RuleID) String() string {
	return string(id)
}

func (id *RuleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = RuleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("rule id must be a string or number: %w", err)
	}
	*id = RuleID(n.String())
	return nil
}

// TriggerKind decides when a rule is considered for firing.
type TriggerKind string

const (
	TriggerInterval TriggerKind = "interval"
	TriggerEvent    TriggerKind = "event"
)

// EventType names the item event an event trigger listens for.
type EventType string

const EventDownloadAdded EventType = "download_added"

type Trigger struct {
	Kind          TriggerKind
	PeriodMinutes float64
	Event         EventType
}

// IntervalTrigger returns a trigger firing every periodMinutes.
func IntervalTrigger(periodMinutes float64) Trigger {
	return Trigger{Kind: TriggerInterval, PeriodMinutes: periodMinutes}
}

// DownloadAddedTrigger returns a trigger firing when new active items appear.
func DownloadAddedTrigger() Trigger {
	return Trigger{Kind: TriggerEvent, Event: EventDownloadAdded}
}

func (t Trigger) IsInterval() bool {
	return t.Kind == TriggerInterval
}

func (t Trigger) IsDownloadAdded() bool {
	return t.Kind == TriggerEvent && t.Event == EventDownloadAdded
}

// Period is the repeat interval of an interval trigger.
func (t Trigger) Period() time.Duration {
	if !t.IsInterval() {
		return 0
	}
	return time.Duration(t.PeriodMinutes * float64(time.Minute))
}

type triggerWire struct {
	Type          string          `json:"type,omitempty"`
	Value         json.RawMessage `json:"value,omitempty"`
	Kind          string          `json:"kind,omitempty"`
	Event         string          `json:"event,omitempty"`
	PeriodMinutes json.RawMessage `json:"periodMinutes,omitempty"`
}

// MarshalJSON writes the stored form: {"type":"interval","value":N} or {"type":"download_added"}.
func (t Trigger) MarshalJSON() ([]byte, error) {
	if t.Kind == TriggerEvent {
		return json.Marshal(struct {
			Type string `json:"type"`
		}{Type: string(t.Event)})
	}
	return json.Marshal(struct {
		Type  string  `json:"type"`
		Value float64 `json:"value"`
	}{Type: string(TriggerInterval), Value: t.PeriodMinutes})
}

func (t *Trigger) UnmarshalJSON(data []byte) error {
	var w triggerWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	switch {
	case w.Type == string(EventDownloadAdded):
		*t = DownloadAddedTrigger()
		return nil
	case w.Kind == string(TriggerEvent):
		event := EventType(w.Event)
		if event == "" {
			event = EventDownloadAdded
		}
		*t = Trigger{Kind: TriggerEvent, Event: event}
		return nil
	}

	raw := w.Value
	if len(w.PeriodMinutes) > 0 {
		raw = w.PeriodMinutes
	}
	period, ok := flexibleFloat(raw)
	if !ok {
		period = 0
	}
	*t = IntervalTrigger(period)
	return nil
}

// ConditionType selects the derived scalar a condition compares.
type ConditionType string

const (
	ConditionSeedingTime         ConditionType = "seeding_time"
	ConditionStalledTime         ConditionType = "stalled_time"
	ConditionSeedingRatio        ConditionType = "seeding_ratio"
	ConditionSeeds               ConditionType = "seeds"
	ConditionPeers               ConditionType = "peers"
	ConditionDownloadSpeed       ConditionType = "download_speed"
	ConditionUploadSpeed         ConditionType = "upload_speed"
	ConditionFileSize            ConditionType = "file_size"
	ConditionAge                 ConditionType = "age"
	ConditionTracker             ConditionType = "tracker"
	ConditionInactive            ConditionType = "inactive"
	ConditionActiveDownloadCount ConditionType = "active_download_count"
)

// IsGlobal reports whether the condition is evaluated over the whole snapshot.
func (c ConditionType) IsGlobal() bool {
	return c == ConditionActiveDownloadCount
}

type ConditionOperator string

const (
	OperatorGreaterThan        ConditionOperator = "gt"
	OperatorLessThan           ConditionOperator = "lt"
	OperatorGreaterThanOrEqual ConditionOperator = "gte"
	OperatorLessThanOrEqual    ConditionOperator = "lte"
	OperatorEqual              ConditionOperator = "eq"
)

// Compare applies the operator. Unknown operators and NaN operands never match.
func (op ConditionOperator) Compare(left, right float64) bool {
	switch op {
	case OperatorGreaterThan:
		return left > right
	case OperatorLessThan:
		return left < right
	case OperatorGreaterThanOrEqual:
		return left >= right
	case OperatorLessThanOrEqual:
		return left <= right
	case OperatorEqual:
		return left == right
	default:
		return false
	}
}

type LogicOperator string

const (
	LogicAnd LogicOperator = "and"
	LogicOr  LogicOperator = "or"
)

// Combine folds condition results. Anything other than "or" behaves as "and".
func (l LogicOperator) Combine(results []bool) bool {
	if l == LogicOr {
		for _, r := range results {
			if r {
				return true
			}
		}
		return false
	}
	for _, r := range results {
		if !r {
			return false
		}
	}
	return true
}

// ConditionValue holds either a number or a string, as stored rules use both.
type ConditionValue struct {
	num   float64
	text  string
	isNum bool
}

func NumberValue(v float64) ConditionValue {
	return ConditionValue{num: v, isNum: true}
}

func TextValue(s string) ConditionValue {
	return ConditionValue{text: s}
}

// Float returns the numeric form, NaN when the value is not a number.
func (v ConditionValue) Float() float64 {
	if v.isNum {
		return v.num
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v.text), 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

// Text returns the string form.
func (v ConditionValue) Text() string {
	if v.isNum {
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	}
	return v.text
}

func (v ConditionValue) MarshalJSON() ([]byte, error) {
	if v.isNum {
		return json.Marshal(v.num)
	}
	return json.Marshal(v.text)
}

func (v *ConditionValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*v = ConditionValue{}
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = TextValue(s)
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("condition value must be a number or string: %w", err)
		}
		*v = NumberValue(f)
	}
	return nil
}

type Condition struct {
	Type     ConditionType     `json:"type"`
	Operator ConditionOperator `json:"operator"`
	Value    ConditionValue    `json:"value"`
}

// ActionType is the item-level operation a rule performs.
type ActionType string

const (
	ActionStopSeeding ActionType = "stop_seeding"
	ActionArchive     ActionType = "archive"
	ActionDelete      ActionType = "delete"
	ActionForceStart  ActionType = "force_start"
)

func (a ActionType) Valid() bool {
	switch a {
	case ActionStopSeeding, ActionArchive, ActionDelete, ActionForceStart:
		return true
	default:
		return false
	}
}

// Label is the human form used in execution logs ("stop seeding").
func (a ActionType) Label() string {
	return strings.Replace(string(a), "_", " ", 1)
}

type Action struct {
	Type ActionType `json:"type"`
}

// Metadata is the per-rule execution bookkeeping. Timestamps are epoch milliseconds.
type Metadata struct {
	ExecutionCount  int    `json:"executionCount"`
	LastExecutedAt  *int64 `json:"lastExecutedAt"`
	TriggeredCount  int    `json:"triggeredCount"`
	LastTriggeredAt *int64 `json:"lastTriggeredAt"`
	LastEnabledAt   *int64 `json:"lastEnabledAt"`
	CreatedAt       *int64 `json:"createdAt"`
	UpdatedAt       *int64 `json:"updatedAt"`
}

// DefaultMetadata is used for rules stored without metadata.
func DefaultMetadata(now time.Time) Metadata {
	ms := now.UnixMilli()
	return Metadata{
		LastEnabledAt: Int64Ptr(ms),
		CreatedAt:     Int64Ptr(ms),
		UpdatedAt:     Int64Ptr(ms),
	}
}

// SchedulingReference is the timestamp an interval schedule counts from.
func (m Metadata) SchedulingReference() *int64 {
	if m.LastTriggeredAt != nil {
		return m.LastTriggeredAt
	}
	return m.LastEnabledAt
}

func (m Metadata) clone() Metadata {
	return Metadata{
		ExecutionCount:  m.ExecutionCount,
		LastExecutedAt:  cloneInt64(m.LastExecutedAt),
		TriggeredCount:  m.TriggeredCount,
		LastTriggeredAt: cloneInt64(m.LastTriggeredAt),
		LastEnabledAt:   cloneInt64(m.LastEnabledAt),
		CreatedAt:       cloneInt64(m.CreatedAt),
		UpdatedAt:       cloneInt64(m.UpdatedAt),
	}
}

type Rule struct {
	ID            RuleID        `json:"id"`
	Name          string        `json:"name"`
	Enabled       bool          `json:"enabled"`
	Trigger       Trigger       `json:"trigger"`
	Conditions    []Condition   `json:"conditions"`
	LogicOperator LogicOperator `json:"logicOperator,omitempty"`
	Action        Action        `json:"action"`
	Metadata      *Metadata     `json:"metadata,omitempty"`
}

type ruleAlias Rule

type ruleWire struct {
	ruleAlias
	Condition *Condition `json:"condition,omitempty"`
}

func (r *Rule) UnmarshalJSON(data []byte) error {
	var w ruleWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = Rule(w.ruleAlias)
	if len(r.Conditions) == 0 && w.Condition != nil {
		r.Conditions = []Condition{*w.Condition}
	}
	return nil
}

// Logic returns the configured operator, defaulting to and.
func (r *Rule) Logic() LogicOperator {
	if r.LogicOperator == LogicOr {
		return LogicOr
	}
	return LogicAnd
}

// UsesGlobalCondition reports whether any condition is evaluated over the whole snapshot.
func (r *Rule) UsesGlobalCondition() bool {
	for _, c := range r.Conditions {
		if c.Type.IsGlobal() {
			return true
		}
	}
	return false
}

// MetadataOrDefault returns a copy of the metadata, or defaults if none is stored.
func (r *Rule) MetadataOrDefault(now time.Time) Metadata {
	if r.Metadata == nil {
		return DefaultMetadata(now)
	}
	return r.Metadata.clone()
}

// Clone returns a deep copy.
func (r *Rule) Clone() *Rule {
	if r == nil {
		return nil
	}
	out := *r
	out.Conditions = append([]Condition(nil), r.Conditions...)
	if r.Metadata != nil {
		md := r.Metadata.clone()
		out.Metadata = &md
	}
	return &out
}

// Validate reports whether the rule can be scheduled.
func (r *Rule) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: rule is nil", ErrInvalidRule)
	}
	if strings.TrimSpace(string(r.ID)) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRule)
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("%w: rule %s has no conditions", ErrInvalidRule, r.ID)
	}
	if !r.Action.Type.Valid() {
		return fmt.Errorf("%w: rule %s has unknown action %q", ErrInvalidRule, r.ID, r.Action.Type)
	}
	switch r.Trigger.Kind {
	case TriggerInterval:
		if r.Trigger.PeriodMinutes <= 0 || math.IsNaN(r.Trigger.PeriodMinutes) || math.IsInf(r.Trigger.PeriodMinutes, 0) {
			return fmt.Errorf("%w: rule %s interval must be positive", ErrInvalidRule, r.ID)
		}
	case TriggerEvent:
		if r.Trigger.Event != EventDownloadAdded {
			return fmt.Errorf("%w: rule %s has unknown event %q", ErrInvalidRule, r.ID, r.Trigger.Event)
		}
	default:
		return fmt.Errorf("%w: rule %s has unknown trigger %q", ErrInvalidRule, r.ID, r.Trigger.Kind)
	}
	return nil
}

// ExecutionLogEntry summarises one firing of a rule.
type ExecutionLogEntry struct {
	Timestamp     int64  `json:"timestamp"`
	Action        string `json:"action"`
	Success       bool   `json:"success"`
	ItemsAffected int    `json:"itemsAffected"`
	Details       string `json:"details"`
	Error         string `json:"error"`
}

// ParseRules decodes a stored rule list.
func ParseRules(data []byte) ([]*Rule, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var rules []*Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRules, err)
	}
	out := rules[:0]
	for _, r := range rules {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

// ParseLogs decodes a stored execution log list.
func ParseLogs(data []byte) ([]ExecutionLogEntry, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var logs []ExecutionLogEntry
	if err := json.Unmarshal(data, &logs); err != nil {
		return nil, fmt.Errorf("parse execution logs: %w", err)
	}
	return logs, nil
}

func Int64Ptr(v int64) *int64 {
	return &v
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	return Int64Ptr(*v)
}

func flexibleFloat(raw json.RawMessage) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}
	var v ConditionValue
	if err := v.UnmarshalJSON(raw); err != nil {
		return 0, false
	}
	f := v.Float()
	if math.IsNaN(f) {
		return 0, false
	}
	return f, true
}
