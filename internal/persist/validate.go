package persist

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// Validation - 복원/가져오기 전 구조 검사
// =============================================================================

// ValidationResult 검증 결과. 실패를 모아서 한 번에 돌려준다.
type ValidationResult struct {
	IsValid       bool     `json:"isValid"`
	Errors        []string `json:"errors"`
	Warnings      []string `json:"warnings"`
	Compatibility string   `json:"compatibility"` // FULL, PARTIAL, INCOMPATIBLE
}

func (v *ValidationResult) addError(msg string) {
	v.Errors = append(v.Errors, msg)
	v.IsValid = false
}

func (v *ValidationResult) addWarning(msg string) {
	v.Warnings = append(v.Warnings, msg)
}

// Validate 백업/가져오기 데이터의 구조 검사.
// 필수 섹션(room, puzzle, messages)이 없거나 형식이 깨지면 에러,
// 설정 누락이나 라이브 버전 불일치 같은 약한 문제는 경고로만 기록한다.
// liveVersion < 0 이면 버전 비교를 생략한다.
func Validate(data []byte, liveVersion int64) ValidationResult {
	result := ValidationResult{
		IsValid:       true,
		Errors:        []string{},
		Warnings:      []string{},
		Compatibility: "FULL",
	}

	// 최상위 섹션 존재 검사는 raw map으로 수행한다.
	// 구조체 역직렬화는 누락 필드를 zero value로 가려버린다.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		result.addError(fmt.Sprintf("invalid JSON: %v", err))
		result.Compatibility = "INCOMPATIBLE"
		return result
	}

	for _, section := range []string{"room", "puzzle", "messages"} {
		if _, ok := raw[section]; !ok {
			result.addError(fmt.Sprintf("missing required section: %s", section))
		}
	}
	if !result.IsValid {
		result.Compatibility = "INCOMPATIBLE"
		return result
	}

	var roomSection RoomSection
	if err := json.Unmarshal(raw["room"], &roomSection); err != nil {
		result.addError(fmt.Sprintf("malformed room section: %v", err))
	} else {
		if roomSection.ID == "" {
			result.addError("room section missing id")
		}
		if roomSection.Settings == nil {
			result.addWarning("room settings missing, live settings will be kept")
		}
		if liveVersion >= 0 && roomSection.Version != liveVersion {
			result.addWarning(fmt.Sprintf("version mismatch: backup has %d, room is at %d",
				roomSection.Version, liveVersion))
			result.Compatibility = "PARTIAL"
		}
	}

	var puzzleSection PuzzleSection
	if err := json.Unmarshal(raw["puzzle"], &puzzleSection); err != nil {
		result.addError(fmt.Sprintf("malformed puzzle section: %v", err))
	} else {
		for i, cell := range puzzleSection.State {
			if cell.CellID == "" {
				result.addError(fmt.Sprintf("puzzle cell %d missing cellId", i))
			}
			if cell.Version < 0 {
				result.addError(fmt.Sprintf("puzzle cell %s has negative version", cell.CellID))
			}
		}
	}

	var messages []MessageRow
	if err := json.Unmarshal(raw["messages"], &messages); err != nil {
		result.addError(fmt.Sprintf("malformed messages section: %v", err))
	}

	if _, ok := raw["participants"]; !ok {
		result.addWarning("participants section missing")
	}
	if _, ok := raw["metadata"]; !ok {
		result.addWarning("metadata section missing")
	}

	if !result.IsValid {
		result.Compatibility = "INCOMPATIBLE"
	}
	return result
}
