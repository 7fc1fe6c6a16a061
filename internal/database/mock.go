package database

import (
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetAccountById(accountId int) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetAccountByUsername(username string) (User, error) {
	args := m.Called(username)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) CreateGame(params CreateGameParams) (Game, error) {
	args := m.Called(params)
	return args.Get(0).(Game), args.Error(1)
}
func (m *MockRepository) GetGameById(gameId int64) (Game, error) {
	args := m.Called(gameId)
	return args.Get(0).(Game), args.Error(1)
}
func (m *MockRepository) GetGameWithMembers(gameId int64) (*Game, error) {
	args := m.Called(gameId)
	if game, ok := args.Get(0).(*Game); ok {
		return game, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRepository) AddMember(params AddMemberParams) (Member, error) {
	args := m.Called(params)
	return args.Get(0).(Member), args.Error(1)
}
func (m *MockRepository) UpdateGameState(gameId int64, state string) error {
	args := m.Called(gameId, state)
	return args.Error(0)
}
func (m *MockRepository) DeleteGame(gameId int64) error {
	args := m.Called(gameId)
	return args.Error(0)
}
func (m *MockRepository) CreateSnapshot(snapshot Snapshot) error {
	args := m.Called(snapshot)
	return args.Error(0)
}
func (m *MockRepository) LatestSnapshot(gameId int64) (Snapshot, error) {
	args := m.Called(gameId)
	return args.Get(0).(Snapshot), args.Error(1)
}
