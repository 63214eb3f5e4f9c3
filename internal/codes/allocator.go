// Package codes выдаёт короткие коды комнат и хранит отображение код -> комната.
package codes

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	alphabet    = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	codeLength  = 6
	maxAttempts = 10

	pendingValue = "pending"
)

var (
	ErrAllocationExhausted = errors.New("codes: no free room code after max attempts")
	ErrNotFound            = errors.New("codes: code is not mapped")
)

var releasePendingScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// CodeChecker проверка уникальности кода в долговременном хранилище
type CodeChecker interface {
	IsCodeInUse(ctx context.Context, code string) (bool, error)
}

type Allocator struct {
	client         *redis.Client
	checker        CodeChecker
	keyPrefix      string
	reservationTTL time.Duration
	random         func([]byte) (int, error)
	log            *logrus.Entry
}

func NewAllocator(client *redis.Client, checker CodeChecker, keyPrefix string, reservationTTL time.Duration, log *logrus.Entry) *Allocator {
	if client == nil || checker == nil {
		panic("codes: redis client and checker are required")
	}
	if reservationTTL <= 0 {
		reservationTTL = 5 * time.Minute
	}
	return &Allocator{
		client:         client,
		checker:        checker,
		keyPrefix:      keyPrefix,
		reservationTTL: reservationTTL,
		random:         rand.Read,
		log:            log.WithField("component", "codes"),
	}
}

func (a *Allocator) key(code string) string {
	return a.keyPrefix + "room_code:" + code
}

// unbiasedLimit байты от него и выше отбрасываются, иначе начало алфавита выпадало бы чаще
const unbiasedLimit = 256 - 256%len(alphabet)

func (a *Allocator) candidate() (string, error) {
	code := make([]byte, 0, codeLength)
	buf := make([]byte, codeLength)
	for len(code) < codeLength {
		if _, err := a.random(buf); err != nil {
			return "", fmt.Errorf("codes: random: %w", err)
		}
		for _, v := range buf {
			if int(v) >= unbiasedLimit {
				continue
			}
			code = append(code, alphabet[int(v)%len(alphabet)])
			if len(code) == codeLength {
				break
			}
		}
	}
	return string(code), nil
}

// Generate резервирует свободный код. Резерв живёт reservationTTL, пока комната не создана.
func (a *Allocator) Generate(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		code, err := a.candidate()
		if err != nil {
			return "", err
		}

		inUse, err := a.checker.IsCodeInUse(ctx, code)
		if err != nil {
			return "", fmt.Errorf("codes: check %s: %w", code, err)
		}
		if inUse {
			a.log.WithField("code", code).Debugf("code taken in database, attempt %d", attempt)
			continue
		}

		ok, err := a.client.SetNX(ctx, a.key(code), pendingValue, a.reservationTTL).Result()
		if err != nil {
			return "", fmt.Errorf("codes: reserve %s: %w", code, err)
		}
		if !ok {
			a.log.WithField("code", code).Debugf("code already reserved, attempt %d", attempt)
			continue
		}
		return code, nil
	}

	a.log.Errorf("failed to allocate a room code after %d attempts", maxAttempts)
	return "", ErrAllocationExhausted
}

// Release снимает резерв, если код ещё не закреплён за комнатой
func (a *Allocator) Release(ctx context.Context, code string) error {
	if err := releasePendingScript.Run(ctx, a.client, []string{a.key(code)}, pendingValue).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("codes: release %s: %w", code, err)
	}
	return nil
}

// Commit закрепляет код за комнатой на оставшееся время её жизни
func (a *Allocator) Commit(ctx context.Context, code string, roomID uuid.UUID, ttl time.Duration) error {
	if ttl <= 0 {
		return a.Forget(ctx, code)
	}
	if err := a.client.Set(ctx, a.key(code), roomID.String(), ttl).Err(); err != nil {
		return fmt.Errorf("codes: commit %s: %w", code, err)
	}
	return nil
}

// Resolve код -> id комнаты. ErrNotFound, если отображения нет или идёт резервирование.
func (a *Allocator) Resolve(ctx context.Context, code string) (uuid.UUID, error) {
	val, err := a.client.Get(ctx, a.key(code)).Result()
	if errors.Is(err, redis.Nil) || val == pendingValue {
		return uuid.Nil, ErrNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("codes: resolve %s: %w", code, err)
	}
	id, err := uuid.Parse(val)
	if err != nil {
		// битое значение: убираем, следующий вызов пойдёт в базу
		_ = a.client.Del(ctx, a.key(code)).Err()
		return uuid.Nil, ErrNotFound
	}
	return id, nil
}

func (a *Allocator) Forget(ctx context.Context, code string) error {
	if err := a.client.Del(ctx, a.key(code)).Err(); err != nil {
		return fmt.Errorf("codes: forget %s: %w", code, err)
	}
	return nil
}

func IsValid(code string) bool {
	if len(code) != codeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if !(c >= '0' && c <= '9') && !(c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return true
}
