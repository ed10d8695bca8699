package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"cfeagent/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// Versioned stamps record with the current schema and codec versions.
func Versioned(record model.RunRecord) model.RunRecord {
	record.VersionedRecord = model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
	return record
}

func EncodeRun(run model.RunRecord) ([]byte, error) {
	if err := checkVersion(run.VersionedRecord); err != nil {
		return nil, err
	}
	return json.Marshal(run)
}

func DecodeRun(data []byte) (model.RunRecord, error) {
	var run model.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.RunRecord{}, err
	}
	return run, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return fmt.Errorf("%w: schema %d codec %d", ErrVersionMismatch, v.SchemaVersion, v.CodecVersion)
	}
	return nil
}
