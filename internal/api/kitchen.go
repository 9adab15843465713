package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"kdsboard/internal/database"
	"kdsboard/internal/models"
	"kdsboard/internal/monitoring"
)

// PanelPrefix is where the staff endpoints are mounted
const PanelPrefix = "/api/v1/panel"

const (
	defaultWaitThreshold = 10 * time.Minute
	waitingLimit         = 5
	waitingZone          = "Dining room"
)

// Options configures the kitchen API
type Options struct {
	Secret          string
	CashierCenterID int64
	WaitThreshold   time.Duration
	Clock           clockwork.Clock
	Logger          *logrus.Entry
	Metrics         *monitoring.Metrics
}

// KitchenAPI serves the order endpoints and the live feed boards consume
type KitchenAPI struct {
	Router *gin.Engine
	Hub    *Hub
	DB     *database.Store

	cashier       int64
	waitThreshold time.Duration
	secret        string
	clock         clockwork.Clock
	log           *logrus.Entry
}

// NewKitchenAPI creates a new kitchen API instance
func NewKitchenAPI(db *database.Store, opts Options) *KitchenAPI {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.WaitThreshold <= 0 {
		opts.WaitThreshold = defaultWaitThreshold
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(opts.Logger))

	k := &KitchenAPI{
		Router:        router,
		Hub:           NewHub(opts.Logger.WithField("component", "hub"), opts.Metrics),
		DB:            db,
		cashier:       opts.CashierCenterID,
		waitThreshold: opts.WaitThreshold,
		secret:        opts.Secret,
		clock:         opts.Clock,
		log:           opts.Logger,
	}

	k.setupRoutes()
	return k
}

// setupRoutes configures all API endpoints
func (k *KitchenAPI) setupRoutes() {
	// Health check
	k.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "KDS backend is running"})
	})

	k.Router.GET("/ws/kds/:center", k.Hub.handleWebSocket)

	// Customers announce cash payments without a staff session
	k.Router.POST(PanelPrefix+"/orders/:id/notify-cash-payment", k.NotifyCashPayment)

	panel := k.Router.Group(PanelPrefix, AuthMiddleware(k.secret))
	{
		// Boards
		panel.GET("/kds/:center/pending-orders", k.PendingOrders)
		panel.GET("/kds/:center/completed-orders", k.CompletedOrders)
		panel.GET("/waiting-orders", k.WaitingOrders)

		// Order management
		panel.POST("/orders", k.CreateOrder)
		panel.GET("/orders/:id", k.GetOrder)
		panel.POST("/orders/:id/update-state", k.UpdateState)
		panel.POST("/orders/:id/mark-paid", k.MarkPaid)
	}
}

// Board handlers

func (k *KitchenAPI) PendingOrders(c *gin.Context) {
	center, ok := k.centerParam(c)
	if !ok {
		return
	}

	statuses := []models.Status{models.StatusPending, models.StatusInPreparation}
	if center == k.cashier {
		statuses = []models.Status{models.StatusPaymentDue}
	}

	recs, err := k.DB.ListByStatuses(statuses...)
	if err != nil {
		k.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, k.forCenter(recs, center))
}

func (k *KitchenAPI) CompletedOrders(c *gin.Context) {
	center, ok := k.centerParam(c)
	if !ok {
		return
	}

	now := k.clock.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	recs, err := k.DB.CompletedSince(today)
	if err != nil {
		k.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, k.forCenter(recs, center))
}

func (k *KitchenAPI) WaitingOrders(c *gin.Context) {
	now := k.clock.Now().UTC()
	recs, err := k.DB.Delayed(now.Add(-k.waitThreshold), waitingLimit)
	if err != nil {
		k.serverError(c, err)
		return
	}

	tables := make([]models.WaitingTable, 0, len(recs))
	for _, rec := range recs {
		w := models.WaitingTable{
			ZoneName:    waitingZone,
			TableName:   fmt.Sprintf("Table %d", rec.TableID),
			WaitMinutes: int(now.Sub(rec.CreatedAt) / time.Minute),
		}
		if len(rec.Items) > 0 {
			w.SampleItem = rec.Items[0].Name
		}
		tables = append(tables, w)
	}
	c.JSON(http.StatusOK, tables)
}

// Order management handlers

type orderItemRequest struct {
	models.LineItem
	// CenterID routes the item to a kitchen center; zero uses the order's center
	CenterID int64 `json:"center_id"`
}

type createOrderRequest struct {
	TableID      int64              `json:"table_id" binding:"required,gt=0"`
	CenterID     int64              `json:"center_id" binding:"required,gt=0"`
	Items        []orderItemRequest `json:"items" binding:"required,min=1"`
	Total        float64            `json:"total" binding:"gte=0"`
	PaymentFirst bool               `json:"payment_first"`
}

func (k *KitchenAPI) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec := &database.OrderRecord{
		TableID:   req.TableID,
		Total:     req.Total,
		Status:    string(models.StatusPending),
		CreatedAt: k.clock.Now().UTC(),
	}
	if req.PaymentFirst {
		rec.Status = string(models.StatusPaymentDue)
	}
	for _, it := range req.Items {
		center := it.CenterID
		if center == 0 {
			center = req.CenterID
		}
		rec.Items = append(rec.Items, database.ItemRecord{
			CenterID: center,
			Quantity: it.Quantity,
			Name:     it.Name,
			Note:     it.Note,
		})
	}

	if err := k.DB.CreateOrder(rec); err != nil {
		k.serverError(c, err)
		return
	}

	if req.PaymentFirst {
		k.alertCashier(*rec, models.AlertPaymentDue)
	} else {
		k.sendToKitchens(*rec)
	}
	c.JSON(http.StatusCreated, rec.ToOrder(0))
}

func (k *KitchenAPI) GetOrder(c *gin.Context) {
	rec, ok := k.loadOrder(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rec.ToOrder(0))
}

type updateStateRequest struct {
	NewState models.Status `json:"new_state" binding:"required"`
}

func (k *KitchenAPI) UpdateState(c *gin.Context) {
	rec, ok := k.loadOrder(c)
	if !ok {
		return
	}

	var req updateStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.NewState.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown state " + string(req.NewState)})
		return
	}

	if err := k.DB.UpdateStatus(rec.ID, req.NewState); err != nil {
		k.serverError(c, err)
		return
	}
	rec.Status = string(req.NewState)

	k.log.WithFields(logrus.Fields{"order_id": rec.ID, "state": req.NewState}).Info("order state updated")
	c.JSON(http.StatusOK, rec.ToOrder(0))
}

func (k *KitchenAPI) MarkPaid(c *gin.Context) {
	rec, ok := k.loadOrder(c)
	if !ok {
		return
	}
	if rec.Status != string(models.StatusPaymentDue) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Order is not awaiting payment"})
		return
	}

	if err := k.DB.UpdateStatus(rec.ID, models.StatusPending); err != nil {
		k.serverError(c, err)
		return
	}
	rec.Status = string(models.StatusPending)

	// Paid orders start in the kitchen
	k.sendToKitchens(*rec)
	c.JSON(http.StatusOK, rec.ToOrder(0))
}

type cashPaymentRequest struct {
	CustomerAlias string `json:"customer_alias" binding:"required"`
}

func (k *KitchenAPI) NotifyCashPayment(c *gin.Context) {
	rec, ok := k.loadOrder(c)
	if !ok {
		return
	}

	var req cashPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if rec.Status != string(models.StatusPaymentDue) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Order is not awaiting payment"})
		return
	}

	if err := k.DB.SetCustomerAlias(rec.ID, req.CustomerAlias); err != nil {
		k.serverError(c, err)
		return
	}
	rec.CustomerAlias = req.CustomerAlias

	k.alertCashier(*rec, models.AlertCashPaymentDue)
	c.JSON(http.StatusOK, gin.H{"message": "Cash payment notification sent to the cashier"})
}

// Private helper methods

func (k *KitchenAPI) sendToKitchens(rec database.OrderRecord) {
	for _, center := range rec.Centers() {
		if center == k.cashier {
			continue
		}
		k.broadcast(center, models.FeedEvent{Order: rec.ToOrder(center)})
	}
}

func (k *KitchenAPI) alertCashier(rec database.OrderRecord, alert models.AlertType) {
	if k.cashier == 0 {
		k.log.WithField("order_id", rec.ID).Warn("no cashier center configured, payment alert not sent")
		return
	}
	k.broadcast(k.cashier, models.FeedEvent{Order: rec.ToOrder(0), AlertType: alert})
}

func (k *KitchenAPI) broadcast(center int64, evt models.FeedEvent) {
	n, err := k.Hub.Broadcast(center, evt)
	if err != nil {
		k.log.WithError(err).WithField("order_id", evt.ID).Error("could not encode feed message")
		return
	}
	k.log.WithFields(logrus.Fields{
		"order_id":   evt.ID,
		"center_id":  center,
		"alert_type": evt.AlertType,
		"boards":     n,
	}).Debug("order broadcast")
}

func (k *KitchenAPI) forCenter(recs []database.OrderRecord, center int64) []models.Order {
	scope := center
	if center == k.cashier {
		scope = 0
	}

	orders := make([]models.Order, 0, len(recs))
	for _, rec := range recs {
		o := rec.ToOrder(scope)
		if len(o.Items) == 0 {
			continue
		}
		orders = append(orders, o)
	}
	return orders
}

func (k *KitchenAPI) centerParam(c *gin.Context) (int64, bool) {
	center, err := strconv.ParseInt(c.Param("center"), 10, 64)
	if err != nil || center <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid center id"})
		return 0, false
	}
	return center, true
}

func (k *KitchenAPI) loadOrder(c *gin.Context) (*database.OrderRecord, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return nil, false
	}

	rec, err := k.DB.GetOrder(uint(id))
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return nil, false
	}
	if err != nil {
		k.serverError(c, err)
		return nil, false
	}
	return rec, true
}

func (k *KitchenAPI) serverError(c *gin.Context, err error) {
	k.log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// requestLogger logs one line per request
func requestLogger(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		}).Debug("request")
	}
}
