// internal/core/domain/session/store.go
package session

import (
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 32

// Store - шардированное in-memory хранилище диалогов с TTL.
// Блокировка пошардовая, чтобы наплыв апдейтов одного пользователя
// не задерживал остальных.
type Store struct {
	shards [shardCount]*shard
	ttl    time.Duration
}

type shard struct {
	mu       sync.Mutex
	sessions map[int64]Session
}

// NewStore создает хранилище с заданным TTL простоя
func NewStore(ttl time.Duration) *Store {
	s := &Store{ttl: ttl}
	for i := range s.shards {
		s.shards[i] = &shard{sessions: make(map[int64]Session)}
	}
	return s
}

func (s *Store) shardFor(userID int64) *shard {
	h := fnv.New32a()
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(userID >> (8 * i))
	}
	h.Write(buf[:])
	return s.shards[h.Sum32()%shardCount]
}

// Get возвращает копию сессии
func (s *Store) Get(userID int64) (Session, bool) {
	sh := s.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess, ok := sh.sessions[userID]
	if !ok {
		return Session{}, false
	}
	if s.expired(sess, time.Now()) {
		delete(sh.sessions, userID)
		return Session{}, false
	}
	return sess, true
}

// Put сохраняет сессию и обновляет отметку времени. Поколение
// принадлежит сессии: его двигает машина состояний при смене попытки
// (/start, /cancel), а не каждая запись.
func (s *Store) Put(sess Session) {
	sh := s.shardFor(sess.UserID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess.UpdatedAt = time.Now()
	sh.sessions[sess.UserID] = sess
}

// Update модифицирует сессию под шардовой блокировкой.
// Возвращает false если сессии нет.
func (s *Store) Update(userID int64, fn func(*Session)) bool {
	sh := s.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess, ok := sh.sessions[userID]
	if !ok || s.expired(sess, time.Now()) {
		return false
	}

	fn(&sess)
	sess.UpdatedAt = time.Now()
	sh.sessions[userID] = sess
	return true
}

// UpdateIfGeneration применяет запись только если сессия осталась в той
// же попытке обмена, в которой ее читали. Так отбрасываются результаты
// OCR, пришедшие после сброса или перезапуска диалога; обычные
// сообщения пользователя и догоняющие кадры альбома попытку не меняют.
func (s *Store) UpdateIfGeneration(userID int64, gen uint64, fn func(*Session)) bool {
	sh := s.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess, ok := sh.sessions[userID]
	if !ok || sess.Generation != gen || s.expired(sess, time.Now()) {
		return false
	}

	fn(&sess)
	sess.UpdatedAt = time.Now()
	sh.sessions[userID] = sess
	return true
}

// Delete удаляет сессию
func (s *Store) Delete(userID int64) {
	sh := s.shardFor(userID)
	sh.mu.Lock()
	delete(sh.sessions, userID)
	sh.mu.Unlock()
}

// Len возвращает количество сессий
func (s *Store) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += len(sh.sessions)
		sh.mu.Unlock()
	}
	return total
}

// Sweep удаляет простаивающие сессии, возвращает количество удаленных
func (s *Store) Sweep(now time.Time) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, sess := range sh.sessions {
			if s.expired(sess, now) {
				delete(sh.sessions, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

func (s *Store) expired(sess Session, now time.Time) bool {
	return s.ttl > 0 && now.Sub(sess.UpdatedAt) > s.ttl
}
