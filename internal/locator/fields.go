package locator

// Logical field names. Flow and offer code refer to page elements only
// through these names.
const (
	FieldProductReady      = "product_ready"
	FieldUnavailable       = "unavailable"
	FieldSeeAllOffers      = "see_all_offers"
	FieldOfferDialog       = "offer_dialog"
	FieldNoOffers          = "no_offers"
	FieldPinnedOffer       = "pinned_offer"
	FieldOfferExpand       = "offer_expand"
	FieldOfferListItem     = "offer_list_item"
	FieldOfferPrice        = "offer_price"
	FieldOfferShipsFrom    = "offer_ships_from"
	FieldOfferSoldBy       = "offer_sold_by"
	FieldOfferAddToCart    = "offer_add_to_cart"
	FieldBuyboxPrice       = "buybox_price"
	FieldBuyboxMerchant    = "buybox_merchant"
	FieldBuyboxShipsFrom   = "buybox_ships_from"
	FieldBuyboxSoldBy      = "buybox_sold_by"
	FieldAddToCart         = "add_to_cart"
	FieldCartPanel         = "cart_panel"
	FieldPanelCheckout     = "panel_checkout"
	FieldCartCheckout      = "cart_checkout"
	FieldCheckoutReady     = "checkout_ready"
	FieldPlaceOrder        = "place_order"
	FieldOrderConfirmation = "order_confirmation"
	FieldOrderNumber       = "order_number"
)

// Default returns the built-in map for the retail product page layout.
func Default() *Map {
	m, err := New(defaultFields()...)
	if err != nil {
		panic("locator: invalid default map: " + err.Error())
	}
	return m
}

func defaultFields() []Field {
	return []Field{
		{Name: FieldProductReady, Selectors: []string{
			"#add-to-cart-button",
			"#buy-now-button",
			"#buybox-see-all-buying-choices",
			"#desktop_buybox",
			"#aod-pinned-offer",
		}},
		{Name: FieldUnavailable, Selectors: []string{
			"#outOfStock",
			"#availability .a-color-price",
		}},
		{Name: FieldSeeAllOffers, Selectors: []string{
			"#buybox-see-all-buying-choices a",
			"#buybox-see-all-buying-choices",
		}},
		{Name: FieldOfferDialog, Selectors: []string{
			"#aod-container",
			"#all-offers-display",
		}},
		{Name: FieldNoOffers, Selectors: []string{
			"#aod-no-offer-message",
			"#aod-pinned-offer-show-more-link-announcement",
		}},
		{Name: FieldPinnedOffer, Selectors: []string{
			"#aod-pinned-offer",
		}},
		{Name: FieldOfferExpand, Selectors: []string{
			"#aod-pinned-offer-show-more-link",
			".aod-see-more-link",
		}},
		{Name: FieldOfferListItem, Selectors: []string{
			"#aod-offer-list #aod-offer",
			"#aod-offer",
			".aod-offer-container",
		}},
		{Name: FieldOfferPrice, Scoped: true, Selectors: []string{
			".a-price .a-offscreen",
			".aod-pinned-offer-price .a-offscreen",
		}},
		{Name: FieldOfferShipsFrom, Scoped: true, Selectors: []string{
			"#aod-offer-shipsFrom .a-col-right",
			"[id*='shipsFrom']",
			".aod-ship-from",
		}},
		{Name: FieldOfferSoldBy, Scoped: true, Selectors: []string{
			"#aod-offer-soldBy a",
			"[id*='soldBy'] a",
			".aod-sold-by a",
			"[id*='soldBy']",
		}},
		{Name: FieldOfferAddToCart, Scoped: true, Selectors: []string{
			"input[name='submit.addToCart']",
			".a-button-input",
		}},
		{Name: FieldBuyboxPrice, Selectors: []string{
			"#corePrice_feature_div .a-price .a-offscreen",
			"#apex_desktop .a-price .a-offscreen",
			".a-price.aok-align-center .a-offscreen",
		}},
		{Name: FieldBuyboxMerchant, Selectors: []string{
			"#merchant-info",
		}},
		{Name: FieldBuyboxShipsFrom, Selectors: []string{
			"#fulfillerInfoFeature_feature_div .offer-display-feature-text-message",
			"#tabular-buybox .tabular-buybox-text[tabular-attribute-name='Ships from']",
		}},
		{Name: FieldBuyboxSoldBy, Selectors: []string{
			"#sellerProfileTriggerId",
			"#merchantInfoFeature_feature_div .offer-display-feature-text-message",
			"#tabular-buybox .tabular-buybox-text[tabular-attribute-name='Sold by']",
		}},
		{Name: FieldAddToCart, Selectors: []string{
			"#add-to-cart-button",
			"input[name='submit.add-to-cart']",
			"#desktop_qualifiedBuyBox input[name='submit.add-to-cart']",
		}},
		{Name: FieldCartPanel, Selectors: []string{
			"#attach-sidesheet",
			"#sw-atc-details-single-container",
			"#huc-v2-order-row-confirm-text",
			"#NATC_SMART_WAGON_CONF_MSG_SUCCESS",
			"#hlb-view-cart-announce",
		}},
		{Name: FieldPanelCheckout, Selectors: []string{
			"#attach-sidesheet-checkout-button",
			"#hlb-ptc-btn-native",
			"#sw-ptc-form input",
		}},
		{Name: FieldCartCheckout, Selectors: []string{
			"input[name='proceedToRetailCheckout']",
			"#sc-buy-box-ptc-button input",
			"[data-feature-id='proceed-to-checkout-action'] input",
		}},
		{Name: FieldCheckoutReady, Selectors: []string{
			"input[name='placeYourOrder1']",
			"#submitOrderButtonId",
			"#turbo-checkout-pyo-button",
			"#checkout-main",
		}},
		{Name: FieldPlaceOrder, Selectors: []string{
			"input[name='placeYourOrder1']",
			"#submitOrderButtonId input",
			"#bottomSubmitOrderButtonId input",
			"#turbo-checkout-pyo-button",
		}},
		{Name: FieldOrderConfirmation, Selectors: []string{
			"#checkoutThankYouHeader",
			"[data-testid='order-confirmation']",
			"#widget-purchaseSummary",
		}},
		{Name: FieldOrderNumber, Selectors: []string{
			"#orderNumber",
			"[data-testid='order-number']",
			"#widget-purchaseConfirmationDetails bdi",
		}},
	}
}
