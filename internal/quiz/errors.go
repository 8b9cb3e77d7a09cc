package quiz

import (
	"errors"
	"fmt"

	"clearskin/internal/services"
)

var (
	// ErrNoAnswerSelected is returned by Advance when the current question has no candidate answer.
	ErrNoAnswerSelected = fmt.Errorf("%w: no answer selected", services.ErrValidation)
	// ErrInvalidOption is returned by SelectAnswer for an out-of-range option.
	ErrInvalidOption = fmt.Errorf("%w: option out of range", services.ErrValidation)
	// ErrQuizClosed is returned when the questionnaire no longer accepts input.
	ErrQuizClosed = errors.New("quiz is no longer accepting answers")
	// ErrAbandoned is reported by a machine that stopped before finalizing.
	ErrAbandoned = fmt.Errorf("%w: quiz abandoned", services.ErrCanceled)
)
