package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"serotonyl.ru/mystery-box/internal/features/boxes"
	"serotonyl.ru/mystery-box/internal/features/catalog"
	"serotonyl.ru/mystery-box/internal/features/ledger"
	"serotonyl.ru/mystery-box/internal/features/members"
)

// registerAdminRoutes: маршруты админки. Права проверяет admin.Gateway:
// ADMIN читает и пишет, CS только читает.
func (s *Server) registerAdminRoutes(r *gin.RouterGroup) {
	r.GET("/catalog", wrap(s.overview))
	r.GET("/catalog/rarities/:id/validate", wrap(s.validateRarity))
	r.PUT("/catalog/rarities/:id/rewards", wrap(s.setRarityRewards))
	r.POST("/catalog/rewards", wrap(s.createReward))
	r.PATCH("/catalog/rewards/:id", wrap(s.setRewardState))
	r.PATCH("/catalog/tiers/:tier", wrap(s.setTierState))
	r.PUT("/catalog/tiers/:tier/rarities", wrap(s.setTierRarities))

	r.POST("/members/:id/topup", wrap(s.topUp))
	r.POST("/members/:id/adjust", wrap(s.adjust))
	r.PUT("/members/:id/role", wrap(s.assignRole))
	r.GET("/staff", wrap(s.staff))

	r.GET("/ledger", wrap(s.tenantLedger))
	r.GET("/boxes", wrap(s.tenantBoxes))
	r.POST("/boxes/:id/processed", wrap(s.markProcessed))
}

func (s *Server) overview(c *gin.Context) error {
	ov, err := s.gateway.Overview(c.Request.Context(), member(c))
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, ov)
	return nil
}

func (s *Server) validateRarity(c *gin.Context) error {
	id, err := int64Param(c, "id")
	if err != nil {
		return err
	}
	v, err := s.gateway.ValidateRarity(c.Request.Context(), member(c), id)
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, v)
	return nil
}

func (s *Server) setRarityRewards(c *gin.Context) error {
	id, err := int64Param(c, "id")
	if err != nil {
		return err
	}
	var updates []catalog.RewardUpdate
	if err := c.ShouldBindJSON(&updates); err != nil {
		return badRequest("ожидается массив изменений наград", err)
	}
	v, err := s.gateway.SetRarityRewards(c.Request.Context(), member(c), id, updates)
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, v)
	return nil
}

func (s *Server) createReward(c *gin.Context) error {
	var in catalog.NewReward
	if err := c.ShouldBindJSON(&in); err != nil {
		return badRequest("некорректная награда", err)
	}
	rw, err := s.gateway.CreateReward(c.Request.Context(), member(c), in)
	if err != nil {
		return err
	}
	c.JSON(http.StatusCreated, rw)
	return nil
}

func (s *Server) setRewardState(c *gin.Context) error {
	id, err := int64Param(c, "id")
	if err != nil {
		return err
	}
	var patch catalog.RewardPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		return badRequest("некорректное изменение награды", err)
	}
	v, err := s.gateway.SetRewardState(c.Request.Context(), member(c), id, patch)
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, v)
	return nil
}

func (s *Server) setTierState(c *gin.Context) error {
	tier, err := strconv.Atoi(c.Param("tier"))
	if err != nil {
		return badRequest("тир должен быть числом", err)
	}
	var patch catalog.TierPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		return badRequest("некорректное изменение тира", err)
	}
	t, err := s.gateway.SetTierState(c.Request.Context(), member(c), tier, patch)
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, t)
	return nil
}

func (s *Server) setTierRarities(c *gin.Context) error {
	tier, err := strconv.Atoi(c.Param("tier"))
	if err != nil {
		return badRequest("тир должен быть числом", err)
	}
	var patches []catalog.RarityWeightPatch
	if err := c.ShouldBindJSON(&patches); err != nil {
		return badRequest("ожидается массив изменений редкостей", err)
	}
	v, err := s.gateway.SetTierRarityState(c.Request.Context(), member(c), tier, patches)
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, v)
	return nil
}

type creditRequest struct {
	Amount int64  `json:"amount"`
	Note   string `json:"note"`
}

func (s *Server) topUp(c *gin.Context) error {
	id, err := int64Param(c, "id")
	if err != nil {
		return err
	}
	var req creditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return badRequest("ожидается {\"amount\": N, \"note\": \"...\"}", err)
	}
	e, err := s.gateway.TopUp(c.Request.Context(), member(c), id, req.Amount, req.Note)
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, entryViews([]*ledger.Entry{e})[0])
	return nil
}

func (s *Server) adjust(c *gin.Context) error {
	id, err := int64Param(c, "id")
	if err != nil {
		return err
	}
	var req creditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return badRequest("ожидается {\"amount\": N, \"note\": \"...\"}, amount со знаком", err)
	}
	e, err := s.gateway.Adjust(c.Request.Context(), member(c), id, req.Amount, req.Note)
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, entryViews([]*ledger.Entry{e})[0])
	return nil
}

func (s *Server) assignRole(c *gin.Context) error {
	id, err := int64Param(c, "id")
	if err != nil {
		return err
	}
	var req struct {
		Role members.Role `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		return badRequest("ожидается {\"role\": \"ADMIN|CS|MEMBER\"}", err)
	}
	if err := s.gateway.AssignRole(c.Request.Context(), member(c), id, req.Role); err != nil {
		return err
	}
	c.Status(http.StatusNoContent)
	return nil
}

type staffView struct {
	ID       int64        `json:"id"`
	UserID   int64        `json:"user_id"`
	Username string       `json:"username"`
	Role     members.Role `json:"role"`
}

func (s *Server) staff(c *gin.Context) error {
	list, err := s.gateway.Staff(c.Request.Context(), member(c))
	if err != nil {
		return err
	}
	out := make([]staffView, 0, len(list))
	for _, m := range list {
		out = append(out, staffView{ID: m.ID, UserID: m.UserID, Username: m.Username, Role: m.Role})
	}
	c.JSON(http.StatusOK, gin.H{"staff": out})
	return nil
}

func (s *Server) tenantLedger(c *gin.Context) error {
	var f ledger.Filter
	var err error
	if f.MemberID, err = int64Query(c, "member_id"); err != nil {
		return err
	}
	if f.Limit, err = intQuery(c, "limit", 0); err != nil {
		return err
	}
	if f.Offset, err = intQuery(c, "offset", 0); err != nil {
		return err
	}
	for _, k := range splitQuery(c, "kind") {
		f.Kinds = append(f.Kinds, ledger.Kind(k))
	}

	entries, err := s.gateway.Ledger(c.Request.Context(), member(c), f)
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, gin.H{"entries": entryViews(entries)})
	return nil
}

func (s *Server) tenantBoxes(c *gin.Context) error {
	var f boxes.Filter
	var err error
	if f.MemberID, err = int64Query(c, "member_id"); err != nil {
		return err
	}
	if f.CreditTier, err = intQuery(c, "tier", 0); err != nil {
		return err
	}
	if f.Limit, err = intQuery(c, "limit", 0); err != nil {
		return err
	}
	if f.Offset, err = intQuery(c, "offset", 0); err != nil {
		return err
	}
	for _, st := range splitQuery(c, "status") {
		f.Statuses = append(f.Statuses, boxes.Status(st))
	}
	if v := c.Query("processed"); v != "" {
		p, err := strconv.ParseBool(v)
		if err != nil {
			return badRequest("processed должен быть true или false", err)
		}
		f.Processed = &p
	}

	list, err := s.gateway.History(c.Request.Context(), member(c), f)
	if err != nil {
		return err
	}
	if list == nil {
		list = []*boxes.Box{}
	}
	c.JSON(http.StatusOK, gin.H{"boxes": list})
	return nil
}

func (s *Server) markProcessed(c *gin.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return badRequest("некорректный идентификатор бокса", err)
	}
	b, err := s.gateway.MarkProcessed(c.Request.Context(), member(c), id)
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, b)
	return nil
}

func int64Param(c *gin.Context, key string) (int64, error) {
	n, err := strconv.ParseInt(c.Param(key), 10, 64)
	if err != nil {
		return 0, badRequest("параметр "+key+" должен быть числом", err)
	}
	return n, nil
}

func int64Query(c *gin.Context, key string) (int64, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, badRequest("параметр "+key+" должен быть числом", err)
	}
	return n, nil
}

// splitQuery поддерживает и ?status=A&status=B, и ?status=A,B.
func splitQuery(c *gin.Context, key string) []string {
	var out []string
	for _, v := range c.QueryArray(key) {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(strings.ToUpper(part)); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
