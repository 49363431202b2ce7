package utils

import "encoding/json"

// MarshalJSON and UnmarshalJSON are the encoding used for stored entity
// payloads, kept behind one seam so the wire encoding can change in one
// place.
func MarshalJSON(v interface{}) ([]byte, error) { return json.Marshal(v) }

func UnmarshalJSON(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
