package http

import (
	"encoding/json"
	"time"

	"github.com/vasiliy-maslov/storefront/internal/address"
	"github.com/vasiliy-maslov/storefront/internal/cart"
	"github.com/vasiliy-maslov/storefront/internal/catalog"
	"github.com/vasiliy-maslov/storefront/internal/order"
	"github.com/vasiliy-maslov/storefront/internal/user"
)

type UserResponse struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Role      user.Role `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

func newUserResponse(u *user.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
}

type AuthResponse struct {
	Token string       `json:"token"`
	Type  string       `json:"type"`
	User  UserResponse `json:"user"`
}

type AddressResponse struct {
	ID         int64        `json:"id"`
	Street     string       `json:"street"`
	City       string       `json:"city"`
	State      string       `json:"state"`
	PostalCode string       `json:"postalCode"`
	Country    string       `json:"country"`
	IsDefault  bool         `json:"isDefault"`
	Type       address.Type `json:"type"`
}

func newAddressResponse(a *address.Address) AddressResponse {
	return AddressResponse{
		ID:         a.ID,
		Street:     a.Street,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		IsDefault:  a.IsDefault,
		Type:       a.Type,
	}
}

type ProductResponse struct {
	ID            int64       `json:"id"`
	Name          string      `json:"name"`
	Description   string      `json:"description"`
	Price         json.Number `json:"price"`
	StockQuantity int         `json:"stockQuantity"`
	ImageURL      string      `json:"imageUrl"`
	CategoryID    *int64      `json:"categoryId"`
	CategoryName  string      `json:"categoryName,omitempty"`
	IsActive      bool        `json:"isActive"`
}

func newProductResponse(p *catalog.Product) ProductResponse {
	return ProductResponse{
		ID:            p.ID,
		Name:          p.Name,
		Description:   p.Description,
		Price:         money(p.Price),
		StockQuantity: p.StockQuantity,
		ImageURL:      p.ImageURL,
		CategoryID:    p.CategoryID,
		CategoryName:  p.CategoryName,
		IsActive:      p.IsActive,
	}
}

func newProductList(products []catalog.Product) []ProductResponse {
	out := make([]ProductResponse, 0, len(products))
	for i := range products {
		out = append(out, newProductResponse(&products[i]))
	}
	return out
}

type CategoryResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ImageURL    string `json:"imageUrl"`
	ParentID    *int64 `json:"parentId"`
}

func newCategoryList(categories []catalog.Category) []CategoryResponse {
	out := make([]CategoryResponse, 0, len(categories))
	for _, c := range categories {
		out = append(out, CategoryResponse(c))
	}
	return out
}

type CartItemResponse struct {
	ID              int64       `json:"id"`
	ProductID       int64       `json:"productId"`
	ProductName     string      `json:"productName"`
	ProductImageURL string      `json:"productImageUrl"`
	ProductPrice    json.Number `json:"productPrice"`
	Quantity        int         `json:"quantity"`
	Subtotal        json.Number `json:"subtotal"`
}

type CartResponse struct {
	ID          int64              `json:"id"`
	Items       []CartItemResponse `json:"items"`
	TotalAmount json.Number        `json:"totalAmount"`
	TotalItems  int                `json:"totalItems"`
}

func newCartResponse(v *cart.View) CartResponse {
	items := make([]CartItemResponse, 0, len(v.Lines))
	for _, l := range v.Lines {
		items = append(items, CartItemResponse{
			ID:              l.ID,
			ProductID:       l.ProductID,
			ProductName:     l.Product.Name,
			ProductImageURL: l.Product.ImageURL,
			ProductPrice:    money(l.Product.Price),
			Quantity:        l.Quantity,
			Subtotal:        money(l.Subtotal()),
		})
	}
	return CartResponse{
		ID:          v.ID,
		Items:       items,
		TotalAmount: money(v.TotalAmount),
		TotalItems:  v.TotalItems,
	}
}

type OrderItemResponse struct {
	ID              int64       `json:"id"`
	ProductID       int64       `json:"productId"`
	ProductName     string      `json:"productName"`
	ProductImageURL string      `json:"productImageUrl"`
	Quantity        int         `json:"quantity"`
	PriceAtTime     json.Number `json:"priceAtTime"`
	Subtotal        json.Number `json:"subtotal"`
}

type OrderResponse struct {
	ID              int64               `json:"id"`
	UserID          int64               `json:"userId"`
	Status          order.Status        `json:"status"`
	TotalAmount     json.Number         `json:"totalAmount"`
	OrderDate       time.Time           `json:"orderDate"`
	PaymentIntentID *string             `json:"paymentIntentId"`
	ShippingAddress *AddressResponse    `json:"shippingAddress"`
	Items           []OrderItemResponse `json:"items"`
}

func newOrderResponse(o *order.Order) OrderResponse {
	items := make([]OrderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemResponse{
			ID:              it.ID,
			ProductID:       it.ProductID,
			ProductName:     it.ProductName,
			ProductImageURL: it.ProductImageURL,
			Quantity:        it.Quantity,
			PriceAtTime:     money(it.PriceAtTime),
			Subtotal:        money(it.Subtotal()),
		})
	}

	resp := OrderResponse{
		ID:              o.ID,
		UserID:          o.UserID,
		Status:          o.Status,
		TotalAmount:     money(o.TotalAmount),
		OrderDate:       o.OrderDate,
		PaymentIntentID: o.PaymentIntentID,
		Items:           items,
	}
	if o.ShippingAddress != nil {
		addr := newAddressResponse(o.ShippingAddress)
		resp.ShippingAddress = &addr
	}
	return resp
}

func newOrderList(orders []order.Order) []OrderResponse {
	out := make([]OrderResponse, 0, len(orders))
	for i := range orders {
		out = append(out, newOrderResponse(&orders[i]))
	}
	return out
}
