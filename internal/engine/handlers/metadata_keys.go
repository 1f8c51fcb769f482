package handlers

// Metadata key constants used throughout traceflow.
// These keys are reserved and should not be used for custom metadata.
const (
	// MetadataKeyRecordType carries the record type name for routing and
	// debugging without decoding the payload.
	MetadataKeyRecordType = "traceflow_record_type"

	// MetadataKeyRecordSequence carries the record's sequence number once
	// one has been assigned.
	MetadataKeyRecordSequence = "traceflow_record_sequence"

	// MetadataKeyEnqueuedAt records when a message was handed to the feed,
	// used to estimate feed lag at dispatch time.
	MetadataKeyEnqueuedAt = "traceflow_enqueued_at"

	// MetadataKeyHintRule names the rule that produced a published hint.
	MetadataKeyHintRule = "traceflow_hint_rule"

	// MetadataKeyHintSeverity carries the severity of a published hint.
	MetadataKeyHintSeverity = "traceflow_hint_severity"

	// MetadataKeyHintRefSequence carries the sequence number of the record
	// a published hint refers to.
	MetadataKeyHintRefSequence = "traceflow_hint_ref_sequence"
)
