package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jghoshh/duet/backend/models"
	"github.com/jghoshh/duet/backend/queue"
	"github.com/jghoshh/duet/backend/server/challenges"
	"github.com/jghoshh/duet/backend/server/metrics"
	"github.com/jghoshh/duet/backend/server/middleware"
	"github.com/jghoshh/duet/backend/server/respond"
	"github.com/jghoshh/duet/backend/server/rewards"
	"github.com/jghoshh/duet/lib/apperr"
	"github.com/jghoshh/duet/lib/utils"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const maxBodyBytes = 1 << 20

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.ErrMissingField
		}
		return apperr.New(apperr.KindValidation, "malformed request body")
	}
	return nil
}

// caller returns the authenticated account id.
func caller(r *http.Request) (primitive.ObjectID, error) {
	id, err := models.ParseID(middleware.UserID(r.Context()))
	if err != nil {
		return primitive.NilObjectID, apperr.ErrInvalidToken
	}
	return id, nil
}

func pathID(r *http.Request, name string) (primitive.ObjectID, error) {
	return models.ParseID(mux.Vars(r)[name])
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		s.log.WithError(err).WithFields(logrus.Fields{
			"path":     r.URL.Path,
			"trace_id": middleware.TraceID(r.Context()),
		}).Error("request failed")
	}
	respond.Error(w, err)
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	respond.Message(w, http.StatusOK, "server is running")
}

type credentials struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body credentials
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if body.Username == "" || body.Email == "" || body.Password == "" {
		s.fail(w, r, apperr.ErrMissingField)
		return
	}

	session, err := s.svc.Auth.SignUp(r.Context(), body.Username, body.Email, body.Password)
	metrics.RecordEvent(metrics.EventSignUp, err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, session)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body credentials
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	session, err := s.svc.Auth.SignIn(r.Context(), body.Email, body.Password)
	metrics.RecordEvent(metrics.EventSignIn, err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, session)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	userID, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.svc.Auth.ConfirmEmail(r.Context(), userID, body.Token); err != nil {
		s.fail(w, r, err)
		return
	}
	respond.Message(w, http.StatusOK, "email confirmed")
}

func (s *Server) handleContact(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Message  string `json:"message"`
		Category string `json:"category"`
	}
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	body.Email = strings.TrimSpace(body.Email)
	body.Message = strings.TrimSpace(body.Message)
	if body.Email == "" || body.Message == "" {
		s.fail(w, r, apperr.ErrMissingField)
		return
	}
	if !utils.ValidateEmail(body.Email) {
		s.fail(w, r, apperr.ErrInvalidEmail)
		return
	}
	if s.opts.ContactReceiver == "" {
		s.fail(w, r, errors.New("no contact receiver configured"))
		return
	}

	err := s.svc.Emails.PublishEmail(&queue.EmailMessage{
		Id:       uuid.NewString(),
		Kind:     queue.EmailContact,
		To:       s.opts.ContactReceiver,
		ReplyTo:  body.Email,
		Category: body.Category,
		Body:     body.Message,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond.Message(w, http.StatusAccepted, "message received")
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	userID, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	board, err := s.svc.Challenges.Board(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, board)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	account, err := s.svc.Accounts.Get(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, account)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var profile models.Profile
	if err := decode(w, r, &profile); err != nil {
		s.fail(w, r, err)
		return
	}
	userID, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	account, err := s.svc.Accounts.UpdateProfile(r.Context(), userID, profile)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, account)
}

func (s *Server) handlePartner(w http.ResponseWriter, r *http.Request) {
	userID, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	view, err := s.svc.Accounts.Partner(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, view)
}

func (s *Server) handlePartnerRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PartnersUsername string `json:"partnersUsername"`
	}
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	userID, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	n, err := s.svc.Pairing.SendPartnerRequest(r.Context(), userID, body.PartnersUsername)
	metrics.RecordEvent(metrics.EventPartnerRequest, err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, n)
}

func (s *Server) handlePartnerAccept(w http.ResponseWriter, r *http.Request) {
	var body struct {
		NotificationID string `json:"notificationId"`
		RequesterID    string `json:"requesterId"`
	}
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	userID, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	notificationID, err := models.ParseID(body.NotificationID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	// The requester defaults to the sender of the notification.
	var requesterID primitive.ObjectID
	if body.RequesterID != "" {
		if requesterID, err = models.ParseID(body.RequesterID); err != nil {
			s.fail(w, r, err)
			return
		}
	} else {
		n, err := s.svc.Inbox.Get(r.Context(), notificationID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		requesterID = n.SenderID
	}

	pair, err := s.svc.Pairing.AcceptPartnerRequest(r.Context(), notificationID, userID, requesterID)
	metrics.RecordEvent(metrics.EventPairing, err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, pair)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	userID, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	list, err := s.svc.Inbox.List(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []models.Notification{}
	}
	respond.JSON(w, http.StatusOK, list)
}

func (s *Server) handleNotificationCount(w http.ResponseWriter, r *http.Request) {
	userID, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	count, err := s.svc.Inbox.Count(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]int64{"count": count})
}

func (s *Server) handleDeleteNotification(w http.ResponseWriter, r *http.Request) {
	userID, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	id, err := pathID(r, "notificationId")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.svc.Inbox.Delete(r.Context(), userID, id); err != nil {
		s.fail(w, r, err)
		return
	}
	respond.Message(w, http.StatusOK, "notification deleted")
}

func (s *Server) handleCreateChallenge(w http.ResponseWriter, r *http.Request) {
	var in challenges.Input
	if err := decode(w, r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	userID, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	challenge, err := s.svc.Challenges.Create(r.Context(), userID, in)
	metrics.RecordEvent(metrics.EventChallengeCreate, err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, challenge)
}

func (s *Server) handleCompleteChallenge(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ChallengeID string `json:"challengeId"`
	}
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	userID, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	id, err := models.ParseID(body.ChallengeID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	challenge, coins, err := s.svc.Challenges.Complete(r.Context(), id, userID)
	metrics.RecordEvent(metrics.EventChallengeComplete, err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	metrics.RecordCoins(challenge.Coins)
	respond.JSON(w, http.StatusOK, map[string]interface{}{
		"message":   "challenge completed",
		"challenge": challenge,
		"coins":     coins,
	})
}

func (s *Server) handleListChallenges(w http.ResponseWriter, r *http.Request) {
	userID, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	list, err := s.svc.Challenges.List(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []models.Challenge{}
	}
	respond.JSON(w, http.StatusOK, list)
}

func (s *Server) handleDeleteChallenge(w http.ResponseWriter, r *http.Request) {
	userID, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	id, err := pathID(r, "challengeId")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	challenge, err := s.svc.Challenges.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if challenge.OwnerID != userID && challenge.AssignerID != userID {
		s.fail(w, r, apperr.ErrForbidden)
		return
	}
	if err := s.svc.Challenges.Delete(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	respond.Message(w, http.StatusOK, "challenge deleted")
}

func (s *Server) handleCreateReward(w http.ResponseWriter, r *http.Request) {
	var in rewards.Input
	if err := decode(w, r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	userID, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	reward, err := s.svc.Rewards.Create(r.Context(), userID, in)
	metrics.RecordEvent(metrics.EventRewardCreate, err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, reward)
}

func (s *Server) handleOwnedRewards(w http.ResponseWriter, r *http.Request) {
	userID, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	list, err := s.svc.Rewards.ListOwned(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, list)
}

func (s *Server) handleCreatedRewards(w http.ResponseWriter, r *http.Request) {
	userID, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	list, err := s.svc.Rewards.ListCreated(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, list)
}

func (s *Server) handleRedeemReward(w http.ResponseWriter, r *http.Request) {
	userID, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	id, err := pathID(r, "rewardId")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	redemption, err := s.svc.Rewards.Redeem(r.Context(), id, userID)
	metrics.RecordEvent(metrics.EventRewardRedeem, err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !redemption.Expired {
		metrics.RecordCoins(-redemption.Reward.CoinsRequired)
	}
	respond.JSON(w, http.StatusOK, redemption)
}

func (s *Server) handleDeleteReward(w http.ResponseWriter, r *http.Request) {
	userID, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	id, err := pathID(r, "rewardId")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	reward, err := s.svc.Rewards.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if reward.OwnerID != userID && reward.CreatorID != userID {
		s.fail(w, r, apperr.ErrForbidden)
		return
	}
	if err := s.svc.Rewards.Delete(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	respond.Message(w, http.StatusOK, "reward deleted")
}
