package clustering

import (
	"bytes"
	"encoding/gob"
	"errors"
)

// Save serializes the result.
func (r *Result) Save() ([]byte, error) {
	if len(r.Labels) == 0 {
		return nil, errors.New("empty result")
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load deserializes a result produced by Save.
func (r *Result) Load(data []byte) error {
	var decoded Result
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&decoded); err != nil {
		return err
	}
	if len(decoded.Clusters) != len(decoded.ClusterScores) {
		return errors.New("corrupt result: cluster and score counts differ")
	}
	*r = decoded
	return nil
}
