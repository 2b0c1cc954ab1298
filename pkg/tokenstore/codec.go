package tokenstore

import (
	"encoding/json"
	"fmt"

	"github.com/fivetwenty-io/apiclient/pkg/api"
)

func encodePair(pair *api.TokenPair) ([]byte, error) {
	data, err := json.Marshal(pair)
	if err != nil {
		return nil, fmt.Errorf("failed to encode token pair: %w", err)
	}

	return data, nil
}

func decodePair(data []byte) (*api.TokenPair, error) {
	var pair api.TokenPair

	err := json.Unmarshal(data, &pair)
	if err != nil {
		return nil, fmt.Errorf("failed to decode token pair: %w", err)
	}

	return &pair, nil
}
