package nodes

import (
	"context"
	"testing"

	"traffic-law-bot/internal/eino/config"
)

const citedAnswer = "Theo Điều 7 Khoản 9 Nghị định 168/2024/NĐ-CP, người điều khiển xe máy vượt đèn đỏ bị phạt tiền từ 4.000.000 đến 6.000.000 đồng."

func TestQualityChecker_Check(t *testing.T) {
	cfg := &config.QualityConfig{
		Enabled:           true,
		MinQuestionLength: 5,
		MinAnswerLength:   10,
		MaxQuestionLength: 1000,
		MaxAnswerLength:   10000,
		ScoreThreshold:    0.5,
		BlacklistKeywords: []string{"xin lỗi", "tôi không biết"},
	}

	checker := NewQualityChecker(cfg)
	ctx := context.Background()

	tests := []struct {
		name       string
		input      *QualityCheckInput
		wantPassed bool
		wantReason string
	}{
		{
			name: "valid input",
			input: &QualityCheckInput{
				Question: "Xe máy vượt đèn đỏ bị phạt bao nhiêu?",
				Answer:   citedAnswer,
				Persona:  "general",
			},
			wantPassed: true,
		},
		{
			name: "question too short counted in runes",
			input: &QualityCheckInput{
				Question: "Phạt",
				Answer:   citedAnswer,
			},
			wantPassed: false,
			wantReason: "question too short",
		},
		{
			name: "answer too short",
			input: &QualityCheckInput{
				Question: "Vượt đèn đỏ phạt bao nhiêu?",
				Answer:   "Có.",
			},
			wantPassed: false,
			wantReason: "answer too short",
		},
		{
			name: "apology answer is not cached",
			input: &QualityCheckInput{
				Question: "Xe đạp điện cần bằng lái không?",
				Answer:   "Xin lỗi, tôi không tìm thấy quy định phù hợp trong cơ sở dữ liệu.",
			},
			wantPassed: false,
			wantReason: "contains blacklisted content",
		},
		{
			name: "blacklist word in question is fine",
			input: &QualityCheckInput{
				Question: "Xin lỗi, cho hỏi vượt đèn đỏ phạt bao nhiêu?",
				Answer:   citedAnswer,
			},
			wantPassed: true,
		},
		{
			name: "uncited short answer scores low",
			input: &QualityCheckInput{
				Question: "Đèn vàng?",
				Answer:   "Phải dừng lại trước vạch.",
			},
			wantPassed: false,
			wantReason: "quality score below threshold",
		},
		{
			name: "force write bypasses check",
			input: &QualityCheckInput{
				Question:   "Hi",
				Answer:     "Sunny",
				ForceWrite: true,
			},
			wantPassed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := checker.Check(ctx, tt.input)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}

			if result.Passed != tt.wantPassed {
				t.Errorf("expected passed=%v, got passed=%v, reason=%s", tt.wantPassed, result.Passed, result.Reason)
			}

			if !tt.wantPassed && tt.wantReason != "" && result.Reason != tt.wantReason {
				t.Errorf("expected reason=%q, got reason=%q", tt.wantReason, result.Reason)
			}
		})
	}
}

func TestQualityChecker_Disabled(t *testing.T) {
	checker := NewQualityChecker(&config.QualityConfig{Enabled: false})

	result, err := checker.Check(context.Background(), &QualityCheckInput{Question: "X", Answer: "Y"})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if !result.Passed {
		t.Errorf("expected disabled checker to pass, got passed=%v", result.Passed)
	}
}

func TestCalculateQualityScore(t *testing.T) {
	tests := []struct {
		name     string
		question string
		answer   string
		expected float64
	}{
		{name: "cited answer", question: "Xe máy vượt đèn đỏ bị phạt bao nhiêu?", answer: citedAnswer, expected: 1.0},
		{name: "short question", question: "Đèn đỏ?", answer: citedAnswer, expected: 0.8},
		{name: "short uncited answer", question: "Đèn vàng?", answer: "Phải dừng lại trước vạch.", expected: 0.4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := calculateQualityScore(tt.question, tt.answer)
			if score < tt.expected-1e-9 || score > tt.expected+1e-9 {
				t.Errorf("expected score %v, got %v", tt.expected, score)
			}
		})
	}
}
