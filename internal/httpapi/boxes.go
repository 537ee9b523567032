package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"serotonyl.ru/mystery-box/internal/features/boxes"
	"serotonyl.ru/mystery-box/internal/features/catalog"
	"serotonyl.ru/mystery-box/internal/features/ledger"
)

func (s *Server) registerMemberRoutes(r *gin.RouterGroup) {
	r.POST("/boxes/purchase", wrap(s.purchase))
	r.POST("/boxes/:id/open", wrap(s.open))
	r.GET("/boxes", wrap(s.inventory))
	r.GET("/tiers", wrap(s.tiers))
	r.GET("/tiers/:tier/drops", wrap(s.tierDrops))
	r.GET("/rarities/:id/drops", wrap(s.rarityDrops))
	r.GET("/balance", wrap(s.balance))
	r.GET("/history", wrap(s.history))
}

type purchaseRequest struct {
	CreditTier int `json:"credit_tier"`
}

type purchaseResponse struct {
	TransactionID uuid.UUID          `json:"transaction_id"`
	CreditTier    int                `json:"credit_tier"`
	CreditSpent   int64              `json:"credit_spent"`
	CreditsBefore int64              `json:"credits_before"`
	CreditsAfter  int64              `json:"credits_after"`
	RarityID      int64              `json:"rarity_id"`
	RarityCode    catalog.RarityCode `json:"rarity_code"`
	RarityName    string             `json:"rarity_name"`
	ExpiresAt     time.Time          `json:"expires_at"`
}

func (s *Server) purchase(c *gin.Context) error {
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return badRequest("ожидается JSON вида {\"credit_tier\": N}", err)
	}
	m := member(c)
	res, err := s.boxes.Purchase(c.Request.Context(), m.TenantID, m.ID, req.CreditTier)
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, purchaseResponse{
		TransactionID: res.TransactionID,
		CreditTier:    res.CreditTier,
		CreditSpent:   res.CreditSpent,
		CreditsBefore: res.CreditsBefore,
		CreditsAfter:  res.CreditsAfter,
		RarityID:      res.Rarity.ID,
		RarityCode:    res.Rarity.Code,
		RarityName:    res.Rarity.Name,
		ExpiresAt:     res.ExpiresAt,
	})
	return nil
}

type openResponse struct {
	TransactionID uuid.UUID          `json:"transaction_id"`
	RarityID      int64              `json:"rarity_id"`
	RarityCode    catalog.RarityCode `json:"rarity_code"`
	RarityName    string             `json:"rarity_name"`
	RewardID      int64              `json:"reward_id"`
	RewardLabel   string             `json:"reward_label"`
	RewardType    catalog.RewardType `json:"reward_type"`
	RewardAmount  *int64             `json:"reward_amount,omitempty"`
	OpenedAt      time.Time          `json:"opened_at"`
	ExpiresAt     time.Time          `json:"expires_at"`
	CreditsAfter  int64              `json:"credits_after"`
}

func (s *Server) open(c *gin.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return badRequest("некорректный идентификатор бокса", err)
	}
	m := member(c)
	res, err := s.boxes.Open(c.Request.Context(), m.TenantID, m.ID, id)
	if err != nil {
		return err
	}
	out := openResponse{
		TransactionID: res.TransactionID,
		RarityID:      res.Rarity.ID,
		RarityCode:    res.Rarity.Code,
		RarityName:    res.Rarity.Name,
		RewardID:      res.Reward.ID,
		RewardLabel:   res.Reward.Label,
		RewardType:    res.Reward.Type,
		OpenedAt:      res.OpenedAt,
		ExpiresAt:     res.ExpiresAt,
		CreditsAfter:  res.CreditsAfter,
	}
	if res.Reward.Type == catalog.RewardCash {
		out.RewardAmount = res.Reward.Amount
	}
	c.JSON(http.StatusOK, out)
	return nil
}

func (s *Server) inventory(c *gin.Context) error {
	m := member(c)
	list, err := s.boxes.Inventory(c.Request.Context(), m.TenantID, m.ID)
	if err != nil {
		return err
	}
	if list == nil {
		list = []*boxes.Box{}
	}
	c.JSON(http.StatusOK, gin.H{"boxes": list})
	return nil
}

func (s *Server) tiers(c *gin.Context) error {
	tiers, err := s.catalog.ActiveTiers(c.Request.Context(), member(c).TenantID)
	if err != nil {
		return err
	}
	if tiers == nil {
		tiers = []*catalog.Tier{}
	}
	c.JSON(http.StatusOK, gin.H{"tiers": tiers})
	return nil
}

func (s *Server) tierDrops(c *gin.Context) error {
	tier, err := strconv.Atoi(c.Param("tier"))
	if err != nil {
		return badRequest("тир должен быть числом", err)
	}
	drops, err := s.catalog.TierDrops(c.Request.Context(), member(c).TenantID, tier)
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, drops)
	return nil
}

func (s *Server) rarityDrops(c *gin.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return badRequest("id редкости должен быть числом", err)
	}
	drops, err := s.catalog.RarityDrops(c.Request.Context(), member(c).TenantID, id)
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, drops)
	return nil
}

func (s *Server) balance(c *gin.Context) error {
	m := member(c)
	balance, err := s.ledger.Balance(c.Request.Context(), m.TenantID, m.ID)
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
	return nil
}

func (s *Server) history(c *gin.Context) error {
	limit, err := intQuery(c, "limit", ledger.DefaultHistoryLimit)
	if err != nil {
		return err
	}
	m := member(c)
	entries, err := s.ledger.History(c.Request.Context(), m.TenantID, m.ID, limit)
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, gin.H{"entries": entryViews(entries)})
	return nil
}

// entryView: запись журнала в ответе API.
type entryView struct {
	ID           int64       `json:"id"`
	MemberID     int64       `json:"member_id"`
	Delta        int64       `json:"delta"`
	BalanceAfter int64       `json:"balance_after"`
	Kind         ledger.Kind `json:"kind"`
	Description  string      `json:"description"`
	CreatedBy    *int64      `json:"created_by,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

func entryViews(entries []*ledger.Entry) []entryView {
	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryView{
			ID: e.ID, MemberID: e.MemberID, Delta: e.Delta, BalanceAfter: e.BalanceAfter,
			Kind: e.Kind, Description: e.Description, CreatedBy: e.CreatedBy, CreatedAt: e.CreatedAt,
		})
	}
	return out
}

func intQuery(c *gin.Context, key string, def int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, badRequest("параметр "+key+" должен быть числом", err)
	}
	return n, nil
}
