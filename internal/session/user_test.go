package session

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/session-garden-go/internal/json"
)

type UserSuite struct {
	suite.Suite
}

func (s *UserSuite) TestFromRaw() {
	u, err := UserFromRaw(json.RawMessage(`{"id":"u1","avatar_url":"https://x/a.png","name":"alice"}`))
	s.NoError(err)
	s.Equal("u1", u.ID())
	s.Equal("https://x/a.png", u.AvatarURL())
	s.JSONEq(`{"id":"u1","avatar_url":"https://x/a.png","name":"alice"}`, string(u.Raw()))
}

func (s *UserSuite) TestNumericID() {
	u, err := UserFromRaw(json.RawMessage(`{"id":42}`))
	s.NoError(err)
	s.Equal("42", u.ID())
	s.Empty(u.AvatarURL())
}

func (s *UserSuite) TestMissingFields() {
	u, err := UserFromRaw(json.RawMessage(`{}`))
	s.NoError(err)
	s.Empty(u.ID())
	s.Empty(u.AvatarURL())
}

func (s *UserSuite) TestInvalid() {
	_, err := UserFromRaw(json.RawMessage(`[1,2`))
	s.Error(err)
}

func (s *UserSuite) TestJSONRoundTrip() {
	raw := json.RawMessage(`{"id":"u1","avatar_url":"https://x/a.png"}`)
	u, err := UserFromRaw(raw)
	s.Require().NoError(err)

	data, err := json.Marshal(u)
	s.NoError(err)
	s.JSONEq(string(raw), string(data))

	var back User
	s.NoError(json.Unmarshal(data, &back))
	s.Equal("u1", back.ID())
	s.Equal("https://x/a.png", back.AvatarURL())
}

func TestUser(t *testing.T) {
	suite.Run(t, new(UserSuite))
}
