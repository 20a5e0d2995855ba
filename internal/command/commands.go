package command

import (
	"encoding/base64"
	"time"

	"tremolo/internal/catalog"
	"tremolo/internal/notify"
)

// loadWait bounds how long finalized commands wait for track metadata.
const loadWait = 10 * time.Second

func buildTable() map[string]*descriptor {
	cmds := []*descriptor{
		sync0("help", (*Dispatcher).help),
		sync0("list-playlists", (*Dispatcher).listPlaylists),
		{name: "list-tracks", forms: []form{intForm((*Dispatcher).listTracks)}},

		sync0("play", func(d *Dispatcher) (Result, *Error) { d.queue.Play(); return d.status() }),
		sync0("toggle", func(d *Dispatcher) (Result, *Error) { d.queue.Toggle(); return d.status() }),
		sync0("stop", func(d *Dispatcher) (Result, *Error) { d.queue.Stop(); return d.status() }),
		sync0("next", func(d *Dispatcher) (Result, *Error) { d.queue.Next(); return d.status() }),
		sync0("prev", func(d *Dispatcher) (Result, *Error) { d.queue.Prev(); return d.status() }),
		{name: "seek", forms: []form{intForm(func(d *Dispatcher, pos int) (Result, *Error) {
			d.queue.Seek(pos * 1000)
			return d.status()
		})}},
		{name: "goto", forms: []form{intForm(func(d *Dispatcher, idx int) (Result, *Error) {
			if idx < 0 || idx >= d.queue.Len() {
				return nil, errBadIndex("queue track", idx)
			}
			d.queue.Goto(idx)
			return d.status()
		})}},

		sync0("repeat", func(d *Dispatcher) (Result, *Error) {
			d.queue.SetRepeat(!d.queue.Repeat())
			return d.status()
		}),
		sync0("shuffle", func(d *Dispatcher) (Result, *Error) {
			d.queue.SetShuffle(!d.queue.Shuffle())
			return d.status()
		}),

		{name: "queue-add", forms: []form{
			intForm(func(d *Dispatcher, idx int) (Result, *Error) { return d.addPlaylist(idx, false) }),
			intIntForm(func(d *Dispatcher, pl, tr int) (Result, *Error) { return d.addTrack(pl, tr, false) }),
			uriForm(func(d *Dispatcher, uri string, fin Finalize) { d.uriAdd(uri, fin) }),
		}},
		{name: "queue-replace", forms: []form{
			intForm(func(d *Dispatcher, idx int) (Result, *Error) { return d.addPlaylist(idx, true) }),
			intIntForm(func(d *Dispatcher, pl, tr int) (Result, *Error) { return d.addTrack(pl, tr, true) }),
			uriForm(func(d *Dispatcher, uri string, fin Finalize) { d.uriReplace(uri, fin) }),
		}},
		sync0("queue-clear", func(d *Dispatcher) (Result, *Error) {
			d.queue.Clear()
			return d.status()
		}),
		{name: "queue-remove", forms: []form{intForm(func(d *Dispatcher, idx int) (Result, *Error) {
			if idx < 0 || idx >= d.queue.Len() {
				return nil, errBadIndex("queue track", idx)
			}
			d.queue.RemoveRange(idx, 1)
			return d.status()
		})}},
		{name: "queue-remove-range", forms: []form{intIntForm(func(d *Dispatcher, first, last int) (Result, *Error) {
			if first < 0 || last < first || first >= d.queue.Len() {
				return nil, errBadArgs("queue-remove-range", "bad range")
			}
			d.queue.RemoveRange(first, last-first+1)
			return d.status()
		})}},
		sync0("queue-list", (*Dispatcher).queueList),
		sync0("status", (*Dispatcher).status),

		{name: "notify", forms: []form{{params: nil, run: (*Dispatcher).notifyIdle}}},

		{name: "uri-info", forms: []form{uriForm((*Dispatcher).uriInfo)}},
		{name: "uri-add", forms: []form{uriForm((*Dispatcher).uriAdd)}},
		{name: "uri-play", forms: []form{uriForm((*Dispatcher).uriPlay)}},
		{name: "image", forms: []form{{params: nil, run: (*Dispatcher).image}}},
		{name: "search", forms: []form{{
			params: []Kind{KindString},
			run: func(d *Dispatcher, args []value, fin Finalize) {
				d.search(args[0].s, fin)
			},
		}}},

		sync0("quit", func(d *Dispatcher) (Result, *Error) {
			d.shutdown()
			return Result{"ok": true}, nil
		}),
	}

	table := make(map[string]*descriptor, len(cmds))
	for _, c := range cmds {
		table[c.name] = c
	}
	return table
}

// sync0 wraps a nullary synchronous handler.
func sync0(name string, fn func(*Dispatcher) (Result, *Error)) *descriptor {
	return &descriptor{name: name, forms: []form{{
		params: nil,
		run: func(d *Dispatcher, _ []value, fin Finalize) {
			fin(fn(d))
		},
	}}}
}

func intForm(fn func(*Dispatcher, int) (Result, *Error)) form {
	return form{
		params: []Kind{KindInt},
		run: func(d *Dispatcher, args []value, fin Finalize) {
			fin(fn(d, args[0].i))
		},
	}
}

func intIntForm(fn func(*Dispatcher, int, int) (Result, *Error)) form {
	return form{
		params: []Kind{KindInt, KindInt},
		run: func(d *Dispatcher, args []value, fin Finalize) {
			fin(fn(d, args[0].i, args[1].i))
		},
	}
}

func uriForm(fn func(d *Dispatcher, uri string, fin Finalize)) form {
	return form{
		params: []Kind{KindURI},
		run: func(d *Dispatcher, args []value, fin Finalize) {
			fn(d, args[0].s, fin)
		},
	}
}

// --- synchronous handlers -------------------------------------------------

func (d *Dispatcher) help() (Result, *Error) {
	return Result{"commands": d.Names()}, nil
}

func (d *Dispatcher) status() (Result, *Error) {
	return snapshotResult(d.queue.Snapshot()), nil
}

func (d *Dispatcher) listPlaylists() (Result, *Error) {
	lists := d.cat.Playlists()
	out := make([]Result, 0, len(lists))
	for i, pl := range lists {
		out = append(out, Result{
			"index":  i,
			"name":   pl.Name(),
			"tracks": len(pl.Tracks()),
		})
	}
	return Result{"playlists": out}, nil
}

func (d *Dispatcher) listTracks(idx int) (Result, *Error) {
	pl, err := d.playlist(idx)
	if err != nil {
		return nil, err
	}
	return Result{"name": pl.Name(), "tracks": trackResults(pl.Tracks())}, nil
}

func (d *Dispatcher) queueList() (Result, *Error) {
	tracks := d.queue.Tracks()
	defer releaseAll(tracks)
	snap := d.queue.Snapshot()
	return Result{
		"tracks":        trackResults(tracks),
		"current_track": nullableIndex(snap.CurrentTrack),
		"total_tracks":  snap.TotalTracks,
	}, nil
}

func (d *Dispatcher) addPlaylist(idx int, replace bool) (Result, *Error) {
	pl, err := d.playlist(idx)
	if err != nil {
		return nil, err
	}
	if replace {
		d.queue.Replace(pl.Tracks())
	} else {
		d.queue.AppendAll(pl.Tracks())
	}
	return d.status()
}

func (d *Dispatcher) addTrack(plIdx, trIdx int, replace bool) (Result, *Error) {
	pl, err := d.playlist(plIdx)
	if err != nil {
		return nil, err
	}
	tracks := pl.Tracks()
	if trIdx < 0 || trIdx >= len(tracks) {
		return nil, errBadIndex("track", trIdx)
	}
	if replace {
		d.queue.Replace(tracks[trIdx : trIdx+1])
	} else {
		d.queue.Append(tracks[trIdx])
	}
	return d.status()
}

func (d *Dispatcher) playlist(idx int) (catalog.Playlist, *Error) {
	lists := d.cat.Playlists()
	if idx < 0 || idx >= len(lists) {
		return nil, errBadIndex("playlist", idx)
	}
	return lists[idx], nil
}

// --- idle handler ---------------------------------------------------------

// notifyIdle registers a one-shot subscriber; the next published snapshot is
// the response.
func (d *Dispatcher) notifyIdle(_ []value, fin Finalize) {
	d.bus.AddOnce(func(s notify.Snapshot) {
		fin(snapshotResult(s), nil)
	})
}

// --- finalized (asynchronous) handlers ------------------------------------

func (d *Dispatcher) uriInfo(uri string, fin Finalize) {
	d.withLoadedTrack(uri, fin, func(t catalog.Track) (Result, *Error) {
		defer t.Release()
		r := trackResult(t)
		r["available"] = t.IsAvailable()
		r["popularity"] = t.Popularity()
		return r, nil
	})
}

func (d *Dispatcher) uriAdd(uri string, fin Finalize) {
	d.withLoadedTrack(uri, fin, func(t catalog.Track) (Result, *Error) {
		d.queue.Append(t)
		t.Release()
		return d.status()
	})
}

func (d *Dispatcher) uriReplace(uri string, fin Finalize) {
	d.withLoadedTrack(uri, fin, func(t catalog.Track) (Result, *Error) {
		d.queue.Replace([]catalog.Track{t})
		t.Release()
		return d.status()
	})
}

func (d *Dispatcher) uriPlay(uri string, fin Finalize) {
	d.withLoadedTrack(uri, fin, func(t catalog.Track) (Result, *Error) {
		d.queue.Replace([]catalog.Track{t})
		t.Release()
		d.queue.Play()
		return d.status()
	})
}

// withLoadedTrack resolves uri and runs fn once metadata is available,
// finalizing with its outcome. fn owns the track reference.
func (d *Dispatcher) withLoadedTrack(uri string, fin Finalize, fn func(catalog.Track) (Result, *Error)) {
	t, err := d.cat.TrackByURI(uri)
	if err != nil {
		fin(nil, errBadURI(uri))
		return
	}
	go func() {
		deadline := time.Now().Add(loadWait)
		for !t.IsLoaded() {
			if time.Now().After(deadline) {
				t.Release()
				fin(nil, errBadURI(uri))
				return
			}
			time.Sleep(50 * time.Millisecond)
		}
		fin(fn(t))
	}()
}

func (d *Dispatcher) image(_ []value, fin Finalize) {
	tracks := d.queue.Tracks()
	snap := d.queue.Snapshot()
	if snap.CurrentTrack < 0 || snap.CurrentTrack >= len(tracks) {
		releaseAll(tracks)
		fin(nil, &Error{Code: "no-track", Message: "no current track"})
		return
	}
	t := tracks[snap.CurrentTrack]
	t.AddRef()
	releaseAll(tracks)

	go func() {
		defer t.Release()
		data, err := d.cat.CoverArt(t)
		if err != nil {
			fin(nil, errInternal(err))
			return
		}
		fin(Result{"data": base64.StdEncoding.EncodeToString(data)}, nil)
	}()
}

func (d *Dispatcher) search(query string, fin Finalize) {
	go func() {
		tracks, err := d.cat.Search(query)
		if err != nil {
			fin(nil, errInternal(err))
			return
		}
		defer releaseAll(tracks)
		fin(Result{"query": query, "tracks": trackResults(tracks)}, nil)
	}()
}

// --- result builders ------------------------------------------------------

func snapshotResult(s notify.Snapshot) Result {
	r := Result{
		"status":        string(s.Status),
		"repeat":        s.Repeat,
		"shuffle":       s.Shuffle,
		"total_tracks":  s.TotalTracks,
		"current_track": nullableIndex(s.CurrentTrack),
		"position_ms":   s.PositionMS,
	}
	if s.Track != nil {
		r["track"] = Result{
			"title":       s.Track.Title,
			"artist":      s.Track.Artist,
			"album":       s.Track.Album,
			"duration_ms": s.Track.DurationMS,
			"uri":         s.Track.URI,
			"starred":     s.Track.Starred,
		}
	} else {
		r["track"] = nil
	}
	return r
}

func trackResult(t catalog.Track) Result {
	artist := ""
	for i, a := range t.Artists() {
		if i > 0 {
			artist += ", "
		}
		artist += a
	}
	return Result{
		"title":       t.Title(),
		"artist":      artist,
		"album":       t.Album(),
		"duration_ms": t.DurationMS(),
		"uri":         t.URI(),
		"starred":     t.Starred(),
	}
}

func trackResults(tracks []catalog.Track) []Result {
	out := make([]Result, 0, len(tracks))
	for i, t := range tracks {
		r := trackResult(t)
		r["index"] = i
		out = append(out, r)
	}
	return out
}

func nullableIndex(idx int) any {
	if idx < 0 {
		return nil
	}
	return idx
}

func releaseAll(tracks []catalog.Track) {
	for _, t := range tracks {
		t.Release()
	}
}
