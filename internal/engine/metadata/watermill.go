package metadata

import "github.com/ThreeDotsLabs/watermill/message"

// FromWatermill converts Watermill metadata into traceflow metadata.
func FromWatermill(md message.Metadata) Metadata {
	if len(md) == 0 {
		return Metadata{}
	}

	result := make(Metadata, len(md))
	for k, v := range md {
		result[k] = v
	}
	return result
}

// ToWatermill converts traceflow metadata into a Watermill map.
func ToWatermill(metadata Metadata) message.Metadata {
	if len(metadata) == 0 {
		return message.Metadata{}
	}

	wm := make(message.Metadata, len(metadata))
	for k, v := range metadata {
		wm[k] = v
	}
	return wm
}

// MergeInto copies entries onto Watermill metadata without overriding keys
// that are already present. Publishing stamps the reserved traceflow keys
// first, so caller-supplied metadata can never clobber them.
func (m Metadata) MergeInto(md message.Metadata) {
	for k, v := range m {
		if _, stamped := md[k]; stamped {
			continue
		}
		md[k] = v
	}
}
