//----------------------------------------------------------------------
// This file is part of panelnet.
// Copyright (C) 2024-present Bernd Fix   >Y<
//
// panelnet is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// panelnet is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL3.0-or-later
//----------------------------------------------------------------------

package panelnet

import (
	"errors"
	"strings"

	"git.sr.ht/~moody/ninep"
)

// Error messages
var (
	errNoRoot = errors.New("no root directory")
	errNoFile = errors.New("no such file or directory")
	errNoDir  = errors.New("not a directory")
	errNoAbs  = errors.New("no absolute path")
	errExists = errors.New("file exists")
)

//----------------------------------------------------------------------

// Entry in the filesystem
type Entry struct {
	ref      *ninep.Dir        // 9p reference
	children map[string]*Entry // list of children (for folders) or nil
	file     File              // file implementation or nil (for folders)
}

// IsDir returns true if entry is a directory
func (e *Entry) IsDir() bool {
	return e.children != nil
}

// Name of the entry
func (e *Entry) Name() string {
	return e.ref.Name
}

// Read the content of a file entry.
func (e *Entry) Read() ([]byte, error) {
	if e.file == nil {
		return nil, errNoFile
	}
	return e.file.Read()
}

//----------------------------------------------------------------------

// Namespace is a synthetic, read-only file system.
type Namespace struct {
	ninep.NopFS                   // use default handlers where needed
	user, group string            // owner of all entries
	root        *Entry            // root directory
	dict        map[uint64]*Entry // map Qid.Path to filesystem entry
	nextID      uint64            // next Qid.Path
}

// NewNamespace creates a new filesystem (with root directory) for the given
// user/group.
func NewNamespace(user, group string) *Namespace {
	ns := &Namespace{
		user:  user,
		group: group,
		dict:  make(map[uint64]*Entry),
	}
	ns.root = ns.newEntry("/", 0555, nil)
	return ns
}

// Create a new entry in the filesystem.
// If impl is nil, the entry represents a directory; otherwise a file.
func (ns *Namespace) newEntry(name string, perm uint32, impl File) *Entry {
	e := new(Entry)
	kind := ninep.QTFile
	if impl == nil {
		kind = ninep.QTDir
		e.children = make(map[string]*Entry)
		perm |= ninep.DMDir
	} else {
		e.file = impl
	}
	e.ref = &ninep.Dir{
		Qid: ninep.Qid{
			Path: ns.nextID,
			Vers: 0,
			Type: byte(kind),
		},
		Name: name,
		Mode: perm,
		Uid:  ns.user,
		Gid:  ns.group,
		Muid: ns.user,
	}
	ns.nextID++
	ns.dict[e.ref.Path] = e
	return e
}

// Root returns the entry of the root directory
func (ns *Namespace) Root() *Entry {
	return ns.root
}

// Get entry with given path
func (ns *Namespace) Get(path string) (*Entry, error) {
	if len(path) == 0 || path[0] != '/' {
		return nil, errNoAbs
	}
	curr := ns.root
	for _, label := range strings.Split(path[1:], "/") {
		if len(label) == 0 {
			continue
		}
		if !curr.IsDir() {
			return nil, errNoDir
		}
		next, ok := curr.children[label]
		if !ok {
			return nil, errNoFile
		}
		curr = next
	}
	return curr, nil
}

// NewDir creates a directory at path; the parent must exist.
func (ns *Namespace) NewDir(path string) (*Entry, error) {
	return ns.add(path, 0555, nil)
}

// NewFile creates a read-only file at path; the parent must exist.
func (ns *Namespace) NewFile(path string, impl File) (*Entry, error) {
	return ns.add(path, 0444, impl)
}

func (ns *Namespace) add(path string, perm uint32, impl File) (*Entry, error) {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return nil, errNoAbs
	}
	parent, err := ns.Get(path[:idx] + "/")
	if err != nil {
		return nil, err
	}
	if !parent.IsDir() {
		return nil, errNoDir
	}
	name := path[idx+1:]
	if _, ok := parent.children[name]; ok {
		return nil, errExists
	}
	e := ns.newEntry(name, perm, impl)
	parent.children[name] = e
	return e, nil
}

// ninep FS implementation

// Attach to 9p session
func (ns *Namespace) Attach(t *ninep.Tattach) {
	if ns.root == nil {
		t.Err(errNoRoot)
		return
	}
	t.Respond(&ns.root.ref.Qid)
}

// Walk to child entry with name "next".
func (ns *Namespace) Walk(cur *ninep.Qid, next string) *ninep.Qid {
	e, ok := ns.dict[cur.Path]
	if !ok || !e.IsDir() {
		return nil
	}
	if c, ok := e.children[next]; ok {
		return &c.ref.Qid
	}
	return nil
}

// Open entry for file operation
func (ns *Namespace) Open(t *ninep.Topen, q *ninep.Qid) {
	t.Respond(q, 8192)
}

// Read from entry. Either return the content of a file
// or the listing from a directory.
func (ns *Namespace) Read(t *ninep.Tread, q *ninep.Qid) {
	e, ok := ns.dict[q.Path]
	if !ok {
		t.Err(errNoFile)
		return
	}
	if e.IsDir() {
		var kids []ninep.Dir
		for _, c := range e.children {
			kids = append(kids, *c.ref)
		}
		ninep.ReadDir(t, kids)
		return
	}
	data, err := e.file.Read()
	if err != nil {
		t.Err(err)
	} else {
		ninep.ReadBuf(t, data)
	}
}

// Stat returns information for a filesytem entry.
func (ns *Namespace) Stat(t *ninep.Tstat, q *ninep.Qid) {
	e, ok := ns.dict[q.Path]
	if !ok {
		t.Err(errNoFile)
	} else {
		t.Respond(e.ref)
	}
}
