package pathutil

import "testing"

func TestOutsideRoot(t *testing.T) {
	cases := []struct {
		name string
		root string
		dir  string
		want bool
	}{
		{name: "inside", root: "/workspace", dir: "/workspace/sub", want: false},
		{name: "equal", root: "/workspace", dir: "/workspace", want: false},
		{name: "equal_trailing_slash", root: "/workspace", dir: "/workspace/", want: false},
		{name: "outside", root: "/workspace", dir: "/home/other", want: true},
		{name: "sibling_prefix", root: "/workspace", dir: "/workspace2", want: true},
		{name: "dotdot_escape", root: "/workspace", dir: "/workspace/../other", want: true},
		{name: "no_root", root: "", dir: "/anywhere", want: false},
		{name: "no_dir", root: "/workspace", dir: "", want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := OutsideRoot(tc.root, tc.dir); got != tc.want {
				t.Fatalf("OutsideRoot(%q,%q)=%v, want %v", tc.root, tc.dir, got, tc.want)
			}
		})
	}
}
