// Copyright (C) 2015-2016  Nexedi SA and Contributors.
//                          Kirill Smelkov <kirr@nexedi.com>
//
// This program is free software: you can Use, Study, Modify and Redistribute
// it under the terms of the GNU General Public License version 3, or (at your
// option) any later version, as published by the Free Software Foundation.
//
// You can also Link and Combine this program with other software covered by
// the terms of any of the Free Software licenses or any of the Open Source
// Initiative approved licenses and Convey the resulting work. Corresponding
// source of such a combination shall include the source code for all other
// software used.
//
// This program is distributed WITHOUT ANY WARRANTY; without even the implied
// warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
//
// See COPYING file for full licensing terms.
// See https://www.nexedi.com/licensing for rationale and options.

// Package setutil provides a generic Set, replacing the Sha1Set/StrSet
// template-by-copy idiom with a single generic type now that Go has them.
package setutil

// Set[T] is a set of comparable values backed by a map.
type Set[T comparable] map[T]struct{}

// New builds a Set from zero or more initial elements.
func New[T comparable](vv ...T) Set[T] {
	s := make(Set[T], len(vv))
	for _, v := range vv {
		s.Add(v)
	}
	return s
}

func (s Set[T]) Add(v T) {
	s[v] = struct{}{}
}

func (s Set[T]) Contains(v T) bool {
	_, ok := s[v]
	return ok
}

// Elements returns all members of the set as a slice, in unspecified order.
func (s Set[T]) Elements() []T {
	ev := make([]T, 0, len(s))
	for e := range s {
		ev = append(ev, e)
	}
	return ev
}
