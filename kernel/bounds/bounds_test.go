package bounds

import "testing"

func TestCostIsUniform(t *testing.T) {
	tags := []Tag{CopyToUser, CopyFromUser, UserBufTransfer, UserIOVecInit, UserIOVecTransfer}
	for _, tag := range tags {
		if got := tag.Cost(); got != 1 {
			t.Fatalf("tag %d: Cost() = %d, want 1", tag, got)
		}
	}
}
