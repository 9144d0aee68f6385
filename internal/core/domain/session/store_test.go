package session

import (
	"sync"
	"testing"
	"time"
)

func TestPutGet(t *testing.T) {
	st := NewStore(30 * time.Minute)

	st.Put(Session{UserID: 42, ChatID: 42, State: StateChoose, Generation: 3})

	sess, ok := st.Get(42)
	if !ok {
		t.Fatal("Get returned false after Put")
	}
	if sess.State != StateChoose {
		t.Errorf("State = %q, want %q", sess.State, StateChoose)
	}
	if sess.Generation != 3 {
		t.Errorf("Generation = %d, want 3: the stamp belongs to the session", sess.Generation)
	}
}

func TestWritesKeepGeneration(t *testing.T) {
	st := NewStore(30 * time.Minute)
	st.Put(Session{UserID: 42, State: StateChoose, Generation: 1})

	// Обычные записи не двигают штамп попытки
	st.Put(Session{UserID: 42, State: StateWaitReceipt, Generation: 1})
	ok := st.Update(42, func(s *Session) {
		s.State = StateVerifyReceipt
	})
	if !ok {
		t.Fatal("Update returned false")
	}

	sess, _ := st.Get(42)
	if sess.State != StateVerifyReceipt {
		t.Errorf("State = %q, want %q", sess.State, StateVerifyReceipt)
	}
	if sess.Generation != 1 {
		t.Errorf("Generation = %d, want 1", sess.Generation)
	}
}

func TestUpdateIfGenerationDiscardsStale(t *testing.T) {
	st := NewStore(30 * time.Minute)
	st.Put(Session{UserID: 42, State: StateVerifyReceipt, Generation: 1})

	sess, _ := st.Get(42)
	staleGen := sess.Generation

	// Диалог ушел в новую попытку, пока шел асинхронный OCR
	st.Update(42, func(s *Session) {
		s.State = StateChoose
		s.Generation++
	})

	applied := st.UpdateIfGeneration(42, staleGen, func(s *Session) {
		s.State = StateReceiptChoice
	})
	if applied {
		t.Fatal("stale write-back was applied")
	}

	got, _ := st.Get(42)
	if got.State != StateChoose {
		t.Errorf("State = %q, want %q", got.State, StateChoose)
	}
}

func TestUpdateIfGenerationAppliesFresh(t *testing.T) {
	st := NewStore(30 * time.Minute)
	st.Put(Session{UserID: 42, State: StateVerifyReceipt, Generation: 1})

	sess, _ := st.Get(42)

	applied := st.UpdateIfGeneration(42, sess.Generation, func(s *Session) {
		s.State = StateReceiptChoice
	})
	if !applied {
		t.Fatal("fresh write-back was rejected")
	}

	got, _ := st.Get(42)
	if got.State != StateReceiptChoice {
		t.Errorf("State = %q, want %q", got.State, StateReceiptChoice)
	}
}

func TestUpdateIfGenerationSurvivesUnrelatedWrites(t *testing.T) {
	st := NewStore(30 * time.Minute)
	st.Put(Session{UserID: 42, State: StateVerifyReceipt, Generation: 1})

	sess, _ := st.Get(42)
	gen := sess.Generation

	// Пользователь что-то написал, пока шел OCR: попытка та же
	st.Put(Session{UserID: 42, State: StateVerifyReceipt, Generation: gen})

	applied := st.UpdateIfGeneration(42, gen, func(s *Session) {
		s.State = StateReceiptChoice
	})
	if !applied {
		t.Fatal("write-back dropped though the attempt did not change")
	}
}

func TestSweepRemovesIdle(t *testing.T) {
	st := NewStore(30 * time.Minute)
	st.Put(Session{UserID: 1, State: StateChoose})
	st.Put(Session{UserID: 2, State: StateChoose})

	// Вторая сессия простаивает дольше TTL
	sh := st.shardFor(2)
	sh.mu.Lock()
	sess := sh.sessions[2]
	sess.UpdatedAt = time.Now().Add(-time.Hour)
	sh.sessions[2] = sess
	sh.mu.Unlock()

	removed := st.Sweep(time.Now())
	if removed != 1 {
		t.Errorf("Sweep removed %d, want 1", removed)
	}
	if _, ok := st.Get(2); ok {
		t.Error("idle session survived sweep")
	}
	if _, ok := st.Get(1); !ok {
		t.Error("fresh session was swept")
	}
}

func TestGetExpiredReturnsFalse(t *testing.T) {
	st := NewStore(time.Millisecond)
	st.Put(Session{UserID: 7, State: StateChoose})

	time.Sleep(5 * time.Millisecond)

	if _, ok := st.Get(7); ok {
		t.Error("Get returned expired session")
	}
}

func TestConcurrentAccess(t *testing.T) {
	st := NewStore(time.Minute)

	var wg sync.WaitGroup
	for i := int64(0); i < 100; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			st.Put(Session{UserID: id, State: StateChoose})
			st.Update(id, func(s *Session) { s.State = StateWaitReceipt })
			st.Get(id)
		}(i)
	}
	wg.Wait()

	if st.Len() != 100 {
		t.Errorf("Len = %d, want 100", st.Len())
	}
}
