package types

import "fmt"

// ErrNotEnoughVotingPowerSigned is returned when not enough validators signed
// a commit.
type ErrNotEnoughVotingPowerSigned struct {
	Got    int64
	Needed int64
}

func (e ErrNotEnoughVotingPowerSigned) Error() string {
	return fmt.Sprintf("invalid commit -- insufficient voting power: got %d, needed more than %d", e.Got, e.Needed)
}

// ErrInvalidCommitHeight is returned when we encounter a commit with an
// unexpected height.
type ErrInvalidCommitHeight struct {
	Expected int64
	Actual   int64
}

func (e ErrInvalidCommitHeight) Error() string {
	return fmt.Sprintf("invalid commit -- wrong height: %v vs %v", e.Expected, e.Actual)
}

// ErrInvalidCommitSignatures is returned when we encounter a commit where the
// number of signatures doesn't match the number of validators.
type ErrInvalidCommitSignatures struct {
	Expected int
	Actual   int
}

func (e ErrInvalidCommitSignatures) Error() string {
	return fmt.Sprintf("invalid commit -- wrong set size: %v vs %v", e.Expected, e.Actual)
}
