package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestFromStatus(t *testing.T) {
	cases := []struct {
		status int
		want   Kind
	}{
		{400, Validation},
		{401, Auth},
		{403, Forbidden},
		{404, NotFound},
		{500, Server},
		{503, Server},
	}
	for _, c := range cases {
		e := FromStatus("get chat", c.status, "")
		if e.Kind != c.want {
			t.Errorf("FromStatus(%d) kind = %s, want %s", c.status, e.Kind, c.want)
		}
		if e.Status != c.status {
			t.Errorf("FromStatus(%d) status = %d", c.status, e.Status)
		}
	}
}

func TestKindOfWrapped(t *testing.T) {
	base := Wrap(Network, "send message", errors.New("connection refused"))
	wrapped := fmt.Errorf("outer: %w", base)

	if got := KindOf(wrapped); got != Network {
		t.Errorf("KindOf = %s, want %s", got, Network)
	}
	if !IsKind(wrapped, Network) {
		t.Error("IsKind(wrapped, Network) = false")
	}
	if IsKind(errors.New("plain"), Network) {
		t.Error("IsKind matched an unclassified error")
	}
}

func TestErrorMessage(t *testing.T) {
	e := Newf(Validation, "message too long (%d chars)", 1200)
	want := "validation: message too long (1200 chars)"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}

	withOp := FromStatus("rename chat", 403, "")
	if withOp.Error() != "rename chat: forbidden: Forbidden" {
		t.Errorf("Error() = %q", withOp.Error())
	}
}
